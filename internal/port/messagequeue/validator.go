package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != SubjectConversationPrefix || parts[2] != SubjectMessagesSuffix {
		return nil
	}

	var p MessageAppendedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if p.ProjectID != parts[1] {
		return fmt.Errorf("schema validation failed for %s: project_id %q does not match subject", subject, p.ProjectID)
	}
	if p.Role == "" {
		return fmt.Errorf("schema validation failed for %s: role is required", subject)
	}
	return nil
}
