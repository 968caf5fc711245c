package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/lead-engine/internal/model"
)

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// addContact records the first (earliest) lead seen for each phone and email.
func addContact(found map[string]string, id, phone, email string) {
	if phone != "" {
		if _, ok := found[phone]; !ok {
			found[phone] = id
		}
	}
	if email != "" {
		if _, ok := found[email]; !ok {
			found[email] = id
		}
	}
}

func stampEvent(e *model.Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

func stampDelivery(d *model.Delivery) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
