package model

import "time"

// MedicalRecord は診療記録を表す。
type MedicalRecord struct {
	ID             string       `json:"id"`
	PatientID      string       `json:"patientId"`
	ProfessionalID string       `json:"professionalId"`
	Date           CalendarDate `json:"date"`
	Title          string       `json:"title"`
	Notes          string       `json:"notes"` // サニタイズ済みHTML
}

// Consent はプライバシー同意の状態を表す。
type Consent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Purpose   string    `json:"purpose"`
	Granted   bool      `json:"granted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BulletinEntry はダッシュボードに表示するお知らせを表す。
type BulletinEntry struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}
