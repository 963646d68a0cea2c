package dashboard

import "time"

type Facility struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
}

type Coach struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	ClubID    string `json:"clubId,omitempty"`
}

type Club struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city,omitempty"`
}

type Event struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	FacilityID string    `json:"facilityId,omitempty"`
	CoachID    string    `json:"coachId,omitempty"`
	StartsAt   time.Time `json:"startsAt"`
	EndsAt     time.Time `json:"endsAt"`
}

type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	EventID string `json:"eventId,omitempty"`
}
