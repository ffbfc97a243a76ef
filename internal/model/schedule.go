package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MinutesPerDay は1日の分数。
const MinutesPerDay = 24 * 60

// TimeOfDay は0時からの経過分数で表す時刻。
// 全ての時刻演算は分単位の整数で行う。
type TimeOfDay int

// NewTimeOfDay は時と分からTimeOfDayを生成する。
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay は "HH:MM" 形式の文字列を解析する。
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("time of day out of range: %q", s)
	}
	return NewTimeOfDay(h, m), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Valid は時刻が1日の範囲内かどうかを返す。
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < MinutesPerDay
}

// String は "HH:MM" 形式の文字列を返す。
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// MarshalText はencoding.TextMarshalerを実装する。
func (t TimeOfDay) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("time of day out of range: %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText はencoding.TextUnmarshalerを実装する。
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// CalendarDate はタイムゾーンを持たない暦日を表す。
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseCalendarDate は "YYYY-MM-DD" 形式の文字列を解析する。
func ParseCalendarDate(s string) (CalendarDate, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return CalendarDate{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf はtime.Timeの暦日部分を返す。
func DateOf(t time.Time) CalendarDate {
	y, m, d := t.Date()
	return CalendarDate{Year: y, Month: m, Day: d}
}

// Weekday は暦日の曜日を返す。
func (d CalendarDate) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

// IsZero はゼロ値かどうかを返す。
func (d CalendarDate) IsZero() bool {
	return d == CalendarDate{}
}

// Before はdがotherより前の日付かどうかを返す。
func (d CalendarDate) Before(other CalendarDate) bool {
	return d.String() < other.String()
}

// String は "YYYY-MM-DD" 形式の文字列を返す。
func (d CalendarDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText はencoding.TextMarshalerを実装する。ゼロ値は空文字列になる。
func (d CalendarDate) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

// UnmarshalText はencoding.TextUnmarshalerを実装する。空文字列はゼロ値として扱う。
func (d *CalendarDate) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = CalendarDate{}
		return nil
	}
	parsed, err := ParseCalendarDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// WeekdaySet は曜日（0=日曜〜6=土曜）の集合をビット集合で表す。
type WeekdaySet uint8

// NewWeekdaySet は指定された曜日からなる集合を生成する。
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Contains は曜日が集合に含まれるかを返す。
func (s WeekdaySet) Contains(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return s&(1<<uint(d)) != 0
}

// Empty は集合が空かどうかを返す。
func (s WeekdaySet) Empty() bool {
	return s == 0
}

// Days は集合に含まれる曜日を昇順で返す。
func (s WeekdaySet) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

// MarshalJSON は曜日番号の配列としてエンコードする。
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	nums := make([]int, 0, 7)
	for _, d := range s.Days() {
		nums = append(nums, int(d))
	}
	return json.Marshal(nums)
}

// UnmarshalJSON は曜日番号の配列からデコードする。
// 0〜6の範囲外の値が含まれる場合はエラーを返す。
func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("invalid weekday set: %w", err)
	}
	var set WeekdaySet
	for _, n := range nums {
		if n < 0 || n > 6 {
			return fmt.Errorf("weekday out of range: %d", n)
		}
		set |= 1 << uint(n)
	}
	*s = set
	return nil
}

// AvailabilityWindow は医療従事者の繰り返し勤務時間帯を表す。
// スケジューリング側からは読み取り専用として扱う。
type AvailabilityWindow struct {
	Weekdays            WeekdaySet `json:"weekdays"`
	Start               TimeOfDay  `json:"startTime"`
	End                 TimeOfDay  `json:"endTime"`
	SlotDurationMinutes int        `json:"slotDurationMinutes"`
}

// Professional は医療従事者を表す。
type Professional struct {
	ID           string             `json:"id"`
	DisplayName  string             `json:"name"`
	Specialty    string             `json:"specialty"`
	Availability AvailabilityWindow `json:"availability"`
}

// AppointmentStatus は予約の状態を表す。
type AppointmentStatus string

const (
	// AppointmentStatusScheduled は予約済み。
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	// AppointmentStatusCompleted は診察完了。
	AppointmentStatusCompleted AppointmentStatus = "completed"
	// AppointmentStatusCancelled はキャンセル済み。
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Appointment は診察予約を表す。
type Appointment struct {
	ID             string            `json:"id"`
	PatientID      string            `json:"patientId"`
	ProfessionalID string            `json:"professionalId"`
	Date           CalendarDate      `json:"date"`
	Time           TimeOfDay         `json:"time"`
	Reason         string            `json:"reason"`
	Status         AppointmentStatus `json:"status"`
	Telemedicine   bool              `json:"telemedicine"`
	MeetingURL     string            `json:"meetingUrl,omitempty"`
}

// AppointmentFilter は予約一覧の絞り込み条件。空のフィールドは条件に含めない。
type AppointmentFilter struct {
	PatientID      string
	ProfessionalID string
	Date           CalendarDate
}

// BookingRequest は患者からの予約申込み。
type BookingRequest struct {
	ProfessionalID string       `json:"professionalId"`
	Date           CalendarDate `json:"date"`
	Time           TimeOfDay    `json:"time"`
	Reason         string       `json:"reason"`
	Telemedicine   bool         `json:"telemedicine"`
}
