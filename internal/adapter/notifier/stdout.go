package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

// StdoutNotifier prints alerts in a human readable block.
type StdoutNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdoutNotifier creates a notifier writing to out, or os.Stdout when nil.
func NewStdoutNotifier(out io.Writer) *StdoutNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &StdoutNotifier{out: out}
}

// Notify prints the alert details.
func (n *StdoutNotifier) Notify(ctx context.Context, alerts []domain.AlertMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, a := range alerts {
		r := a.Record
		_, err := fmt.Fprintf(n.out,
			"--- ALERT %s ---\nRecord: %s\nAgent: %s (record %d)\nEvent: %d %s\nHost: %s\nClassification: %s\nTime: %s\nMessage: %s\n-----------------------\n",
			strings.ToUpper(Kind(a)),
			r.ID,
			r.AgentID, r.RecordID,
			r.EventID, r.Description,
			r.EventHost,
			r.AIClassification,
			r.Timestamp.UTC().Format(time.RFC3339),
			strings.Join(r.Message, " "),
		)
		if err != nil {
			return fmt.Errorf("write alert %s: %w", r.ID, err)
		}
	}
	return nil
}
