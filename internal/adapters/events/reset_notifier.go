package events

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/google/uuid"
)

// ResetTopic carries password reset tokens to whatever delivers mail.
const ResetTopic = "notifications.password_reset"

// ResetNotifier hands issued reset tokens to a publisher. Tokens never go
// through the outbox, so they are not persisted outside the user row.
type ResetNotifier struct {
	pub    ports.EventPublisher
	source string
}

func NewResetNotifier(pub ports.EventPublisher, source string) *ResetNotifier {
	return &ResetNotifier{pub: pub, source: source}
}

func (n *ResetNotifier) NotifyReset(r *http.Request, email, tenantCode, token string) error {
	payload, err := json.Marshal(map[string]string{
		"email":       email,
		"tenant_code": tenantCode,
		"token":       token,
	})
	if err != nil {
		return err
	}
	env := domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     "password_reset.issued",
		SchemaVersion: domain.CurrentEventSchemaVersion,
		AggregateType: "user",
		AggregateID:   email,
		OccurredAt:    domain.OperationFrom(r.Context()).Now().UTC(),
		Actor:         domain.PrincipalSystem,
		Source:        n.source,
		Payload:       payload,
	}
	if err := n.pub.Publish(r.Context(), ResetTopic, env); err != nil {
		return fmt.Errorf("publish reset token: %w", err)
	}
	return nil
}
