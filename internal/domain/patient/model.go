package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient represents a registered patient. Patients are master data and
// are never deleted by the visit workflow.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	MRN       string    `json:"mrn"`
	Name      string    `json:"name"`
	Sex       string    `json:"sex,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Address   *string   `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
