package internal

const DBTimestampLayout = "2006-01-02 15:04:05"
