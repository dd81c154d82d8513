package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/common"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AlertCore forwards tagged error entries to an operations webhook so a
// failing batch job surfaces without anyone watching the log stream.
type AlertCore struct {
	core       zapcore.Core
	webhookURL string
	minLevel   zapcore.Level
}

// WithAlert wraps the logger's core with an AlertCore. A logger without a
// webhook URL configured is returned unchanged.
func (l *Logger) WithAlert(webhookURL, minLevel string) *Logger {
	if webhookURL == "" {
		return l
	}

	lvl := zapcore.ErrorLevel
	if minLevel != "" {
		_ = lvl.UnmarshalText([]byte(minLevel))
	}

	wrapped := l.Logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &AlertCore{core: core, webhookURL: webhookURL, minLevel: lvl}
	}))
	return &Logger{wrapped}
}

func (a *AlertCore) Enabled(lvl zapcore.Level) bool {
	return a.core.Enabled(lvl)
}

func (a *AlertCore) With(fields []zapcore.Field) zapcore.Core {
	return &AlertCore{
		core:       a.core.With(fields),
		webhookURL: a.webhookURL,
		minLevel:   a.minLevel,
	}
}

func (a *AlertCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if a.Enabled(entry.Level) {
		return a.core.Check(entry, checkedEntry).AddCore(entry, a)
	}
	return checkedEntry
}

func (a *AlertCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	shouldSend := false
	for _, f := range fields {
		if f.Key == common.KEY_LOG_HOOK_SEND_ALERT && f.Type == zapcore.BoolType && f.Integer == 1 {
			shouldSend = true
			break
		}
	}
	if entry.Level >= a.minLevel && shouldSend {
		go a.sendWebhookAlert(entry, fields) // async so logging never blocks
	}
	return a.core.Write(entry, fields)
}

func (a *AlertCore) Sync() error {
	return a.core.Sync()
}

func (a *AlertCore) sendWebhookAlert(entry zapcore.Entry, fields []zapcore.Field) {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	delete(enc.Fields, common.KEY_LOG_HOOK_SEND_ALERT)

	payload := map[string]interface{}{
		"level":   entry.Level.CapitalString(),
		"message": entry.Message,
		"fields":  enc.Fields,
		"time":    entry.Time.Format(time.RFC3339),
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(a.webhookURL, "application/json", bytes.NewBuffer(jsonBody))
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
