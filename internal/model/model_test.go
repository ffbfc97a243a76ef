package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"patient", RolePatient, false},
		{"professional", RoleProfessional, false},
		{"admin", RoleAdmin, false},
		{"Admin", 0, true},
		{"", 0, true},
		{"doctor", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) err = %v, wantErr %t", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRole_ZeroValueIsInvalid(t *testing.T) {
	var r Role
	if r.Valid() {
		t.Error("zero Role should be invalid")
	}
	if _, err := r.MarshalText(); err == nil {
		t.Error("expected error marshaling zero Role")
	}
}

func TestIdentity_JSONRoundTripKeepsRole(t *testing.T) {
	in := Identity{ID: "u1", DisplayName: "Hanako", Email: "h@example.com", Role: RoleProfessional}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `"role":"professional"`; !strings.Contains(string(data), want) {
		t.Errorf("json = %s, want to contain %s", data, want)
	}

	var out Identity
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestIdentity_UnknownRoleRejected(t *testing.T) {
	var out Identity
	err := json.Unmarshal([]byte(`{"id":"u1","role":"superuser"}`), &out)
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestSession_Validate(t *testing.T) {
	id := &Identity{ID: "u1", Role: RolePatient}

	tests := []struct {
		name    string
		session Session
		wantErr bool
	}{
		{"empty", Session{}, false},
		{"both", Session{Identity: id, Token: "tok"}, false},
		{"token only", Session{Token: "tok"}, true},
		{"identity only", Session{Identity: id}, true},
		{"invalid role", Session{Identity: &Identity{ID: "u1"}, Token: "tok"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %t", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"00:00", 0, false},
		{"08:30", 510, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"8:30", 0, true},
		{"08:60", 0, true},
		{"ab:cd", 0, true},
		{"08:3x", 0, true},
		{"+8:00", 0, true},
		{"09:0 ", 0, true},
		{" 9:00", 0, true},
		{"-1:00", 0, true},
		{"08-30", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTimeOfDay(%q) err = %v, wantErr %t", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTimeOfDay_String(t *testing.T) {
	if got := NewTimeOfDay(9, 5).String(); got != "09:05" {
		t.Errorf("String() = %q, want %q", got, "09:05")
	}
}

func TestCalendarDate_Weekday(t *testing.T) {
	d, err := ParseCalendarDate("2024-01-15")
	if err != nil {
		t.Fatalf("ParseCalendarDate: %v", err)
	}
	if d.Weekday() != time.Monday {
		t.Errorf("Weekday() = %v, want Monday", d.Weekday())
	}
	if d.String() != "2024-01-15" {
		t.Errorf("String() = %q, want %q", d.String(), "2024-01-15")
	}
}

func TestCalendarDate_Before(t *testing.T) {
	a := CalendarDate{Year: 2024, Month: time.January, Day: 9}
	b := CalendarDate{Year: 2024, Month: time.January, Day: 10}
	if !a.Before(b) {
		t.Error("expected 2024-01-09 before 2024-01-10")
	}
	if b.Before(a) {
		t.Error("expected 2024-01-10 not before 2024-01-09")
	}
}

// ゼロ値の日付を含む予約がJSONで往復できること。
func TestCalendarDate_ZeroValueRoundTrip(t *testing.T) {
	in := Appointment{ID: "a1", Time: NewTimeOfDay(9, 0)}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"date":""`) {
		t.Errorf("json = %s, want empty date", data)
	}

	var out Appointment
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Date.IsZero() || out.Time != in.Time {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	var d CalendarDate
	if err := json.Unmarshal([]byte(`"0000-00-00"`), &d); err == nil {
		t.Error("expected error for 0000-00-00")
	}
}

func TestWeekdaySet_JSON(t *testing.T) {
	var s WeekdaySet
	if err := json.Unmarshal([]byte(`[1,2,3,4,5]`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Contains(time.Sunday) || s.Contains(time.Saturday) {
		t.Error("weekend should not be in set")
	}
	if !s.Contains(time.Monday) || !s.Contains(time.Friday) {
		t.Error("weekdays should be in set")
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[1,2,3,4,5]" {
		t.Errorf("json = %s, want [1,2,3,4,5]", data)
	}

	if err := json.Unmarshal([]byte(`[7]`), &s); err == nil {
		t.Error("expected error for weekday 7")
	}
}

func TestAvailabilityWindow_DecodesBackendShape(t *testing.T) {
	raw := `{"weekdays":[1,3],"startTime":"08:00","endTime":"12:00","slotDurationMinutes":20}`

	var w AvailabilityWindow
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Start != NewTimeOfDay(8, 0) || w.End != NewTimeOfDay(12, 0) {
		t.Errorf("window = %+v", w)
	}
	if w.SlotDurationMinutes != 20 {
		t.Errorf("SlotDurationMinutes = %d, want 20", w.SlotDurationMinutes)
	}
	if !w.Weekdays.Contains(time.Wednesday) {
		t.Error("expected Wednesday in weekdays")
	}
}

func TestAPIError_Error(t *testing.T) {
	err := NewSlotUnavailableError(CalendarDate{Year: 2024, Month: 1, Day: 15}, NewTimeOfDay(8, 30))
	want := "[SLOT_UNAVAILABLE] 指定された予約枠は利用できません: 2024-01-15 08:30"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
