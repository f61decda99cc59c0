// Package notify implements delivery sinks for the digest message.
package notify

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/pkg/telegram"
)

// Telegram delivers messages to one chat through the Bot API. Delivery is
// attempted once.
type Telegram struct {
	client telegram.Client
	chatID string
}

// NewTelegram creates a Telegram sink bound to chatID.
func NewTelegram(client telegram.Client, chatID string) *Telegram {
	return &Telegram{client: client, chatID: chatID}
}

// Deliver implements digest.Sink.
func (t *Telegram) Deliver(ctx context.Context, text string) error {
	msg, err := t.client.SendMessage(ctx, t.chatID, text)
	if err != nil {
		return err
	}
	zap.L().Info("notify: message delivered",
		zap.String("chat_id", t.chatID),
		zap.Int("message_id", msg.MessageID),
	)
	return nil
}

// Writer prints messages instead of sending them (dry runs).
type Writer struct {
	w io.Writer
}

// NewWriter creates a Writer sink.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Deliver implements digest.Sink.
func (s *Writer) Deliver(_ context.Context, text string) error {
	_, err := io.WriteString(s.w, text)
	return eris.Wrap(err, "notify: write message")
}
