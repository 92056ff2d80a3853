package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger represents a file logger for one account's gateway activity
type Logger struct {
	accountID string
	logFile   *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logDir    string
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelGate    LogLevel = "GATE"
	LogLevelStatus  LogLevel = "STATUS"
)

// NewLogger creates a new file logger for the specified account
func NewLogger(accountID string) (*Logger, error) {
	return NewLoggerAt("logs", accountID)
}

// NewLoggerAt creates a file logger writing under the given directory
func NewLoggerAt(logDir, accountID string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", accountID, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		accountID: accountID,
		logFile:   file,
		logger:    log.New(file, "", 0),
		logDir:    logDir,
	}

	l.writeSessionHeader()

	return l, nil
}

// writeSessionHeader writes a session start header to the log
func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🚀 GATEWAY SESSION STARTED
================================================================================
Account: %s
Started: %s
================================================================================
`, l.accountID, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs an order submission or fill
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Gate logs a gate-chain decision. Rejections are expected and
// frequent; they are logged here, never as errors.
func (l *Logger) Gate(format string, args ...interface{}) {
	l.Log(LogLevelGate, format, args...)
}

// Status logs worker status information
func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// LogOrderExecution logs the details of a filled order
func (l *Logger) LogOrderExecution(venueID, symbol, side, orderID string, sizeUSD, fillPrice float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	tradeLog := fmt.Sprintf(`
[%s] [TRADE] ==================== %s EXECUTED ====================
✅ Order ID: %s
🏦 Venue: %s | Symbol: %s
💵 Size: $%.2f
💰 Fill Price: $%.4f
=============================================================`,
		timestamp, side, orderID, venueID, symbol, sizeUSD, fillPrice)

	l.logger.Println(tradeLog)
}

// LogGateRejection logs a rejected buy intent with the failing gate
func (l *Logger) LogGateRejection(venueID, symbol, gate, reason string, requestedUSD float64) {
	l.Gate("❌ %s %s rejected at %s: %s (requested $%.2f)",
		venueID, symbol, gate, reason, requestedUSD)
}

// LogWorkerState logs a worker state transition
func (l *Logger) LogWorkerState(venueID, from, to, reason string) {
	l.Status("worker %s: %s → %s (%s)", venueID, from, to, reason)
}

// Close closes the underlying log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Println(fmt.Sprintf("[%s] [STATUS] session closed", timestamp))
	return l.logFile.Close()
}
