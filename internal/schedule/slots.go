// Package schedule は医療従事者の勤務時間帯から予約可能枠を算出し、予約を扱う。
package schedule

import (
	"fmt"
	"iter"

	"github.com/hitoshi/carelink/internal/model"
)

// ValidateWindow は勤務時間帯の設定を検証する。
// 不正な場合はErrInvalidConfigurationをラップしたエラーを返す。
func ValidateWindow(w model.AvailabilityWindow) error {
	switch {
	case w.SlotDurationMinutes <= 0:
		return fmt.Errorf("%w: slot duration must be positive, got %d", model.ErrInvalidConfiguration, w.SlotDurationMinutes)
	case w.Weekdays.Empty():
		return fmt.Errorf("%w: weekday set is empty", model.ErrInvalidConfiguration)
	case !w.Start.Valid() || !w.End.Valid():
		return fmt.Errorf("%w: window %d-%d is outside the day", model.ErrInvalidConfiguration, int(w.Start), int(w.End))
	case w.Start >= w.End:
		return fmt.Errorf("%w: start %s is not before end %s", model.ErrInvalidConfiguration, w.Start, w.End)
	}
	return nil
}

// Slots は指定日の予約枠の候補を開始時刻から枠の長さ刻みで列挙する。終了時刻は含まない。
// 勤務曜日でない場合は空のシーケンスを返す。
// 返されるシーケンスは内部状態を持たず、何度でも同じ列を生成する。
func Slots(w model.AvailabilityWindow, date model.CalendarDate) (iter.Seq[model.TimeOfDay], error) {
	if err := ValidateWindow(w); err != nil {
		return nil, err
	}

	if !w.Weekdays.Contains(date.Weekday()) {
		return func(func(model.TimeOfDay) bool) {}, nil
	}

	step := model.TimeOfDay(w.SlotDurationMinutes)
	return func(yield func(model.TimeOfDay) bool) {
		for t := w.Start; ; t += step {
			if !yield(t) {
				return
			}
			// 残り時間が枠の長さ以下なら次の枠はない。加算によるオーバーフローも防ぐ。
			if step >= w.End-t {
				return
			}
		}
	}, nil
}

// ComputeSlots は指定日の予約可能枠を昇順で返す。
// bookedに含まれる時刻と完全一致する枠のみを除外する。
func ComputeSlots(w model.AvailabilityWindow, date model.CalendarDate, booked map[model.TimeOfDay]struct{}) ([]model.TimeOfDay, error) {
	seq, err := Slots(w, date)
	if err != nil {
		return nil, err
	}

	result := []model.TimeOfDay{}
	for t := range seq {
		if _, taken := booked[t]; taken {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// BookedSet は予約済み時刻の一覧を集合に変換する。
func BookedSet(times []model.TimeOfDay) map[model.TimeOfDay]struct{} {
	set := make(map[model.TimeOfDay]struct{}, len(times))
	for _, t := range times {
		set[t] = struct{}{}
	}
	return set
}
