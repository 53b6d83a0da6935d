package audit

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventDeposit     = "DEPOSIT"
	EventWithdrawal  = "WITHDRAWAL"
	EventExchangeBuy = "EXCHANGE_BUY"
	EventRegister    = "REGISTER"
	EventLogin       = "LOGIN"
	EventLoginFailed = "LOGIN_FAILED"
	EventError       = "ERROR"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	SessionID string    `json:"session_id,omitempty"`
	AccountID string    `json:"account_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// AuditLogger writes one structured record per security or balance event.
type AuditLogger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{logger: logger.Named("audit"), now: time.Now}
}

// LogMovement records a committed balance change.
func (a *AuditLogger) LogMovement(sessionID string, accountID int64, eventType string, amount decimal.Decimal, currency string, before, after decimal.Decimal) {
	a.log(AuditEvent{
		Timestamp: a.now(),
		EventType: eventType,
		SessionID: sessionID,
		AccountID: formatID(accountID),
		Amount:    amount.String(),
		Currency:  currency,
		Status:    "SUCCESS",
		Details: map[string]string{
			"balance_before": before.StringFixed(2),
			"balance_after":  after.StringFixed(2),
		},
	})
}

func (a *AuditLogger) LogError(sessionID string, accountID int64, operation string, err error) {
	a.log(AuditEvent{
		Timestamp: a.now(),
		EventType: EventError,
		SessionID: sessionID,
		AccountID: formatID(accountID),
		Status:    "FAILED",
		Details: map[string]string{
			"operation": operation,
			"error":     err.Error(),
		},
	})
}

func (a *AuditLogger) LogOperation(sessionID string, accountID int64, operation, status, details string) {
	event := AuditEvent{
		Timestamp: a.now(),
		EventType: operation,
		SessionID: sessionID,
		AccountID: formatID(accountID),
		Status:    status,
	}
	if details != "" {
		event.Details = map[string]string{"details": details}
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		a.logger.Error("failed to encode audit event", zap.String("event_type", event.EventType), zap.Error(err))
		return
	}
	a.logger.Info("AUDIT", zap.String("event_type", event.EventType), zap.Any("event", json.RawMessage(data)))
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
