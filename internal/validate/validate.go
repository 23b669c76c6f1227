// Package validate はセッション時間帯の検証を提供する。
// アプリのフォーム入力向けのstrictモードと、外部カレンダーからの
// インポート向けのflexibleモードの2つのポリシーを持つ。
package validate

import (
	"fmt"
	"time"
)

// ClockTime は日付に依存しない時刻（時・分）を表す。
type ClockTime struct {
	Hour   int
	Minute int
}

// minutes は0:00からの経過分を返す。
func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

// String は "HH:MM" 形式で返す。
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Policy は検証の境界値を保持する。
// ゼロ値では使わず、DefaultPolicy()から生成して必要に応じて上書きする。
type Policy struct {
	// strictモード: フォーム入力向けの勤務時間帯と時間長
	StrictWorkStart ClockTime
	StrictWorkEnd   ClockTime
	StrictMinMin    int
	StrictMaxMin    int

	// flexibleモード: インポート向けの推奨・拡張時間帯
	RecommendedStart ClockTime
	RecommendedEnd   ClockTime
	ExtendedStart    ClockTime
	ExtendedEnd      ClockTime

	// flexibleモードの時間長境界（分）
	WarnShortMin   int // これ未満は短時間警告
	WarnLongMin    int // これ超過は長時間警告
	RejectLongMin  int // これ超過はリジェクト
	RejectShortMin int // これ未満はリジェクト
}

// DefaultPolicy はデフォルトの検証ポリシーを返す。
func DefaultPolicy() Policy {
	return Policy{
		StrictWorkStart: ClockTime{8, 0},
		StrictWorkEnd:   ClockTime{19, 0},
		StrictMinMin:    15,
		StrictMaxMin:    120,

		RecommendedStart: ClockTime{8, 0},
		RecommendedEnd:   ClockTime{18, 0},
		ExtendedStart:    ClockTime{6, 0},
		ExtendedEnd:      ClockTime{20, 0},

		WarnShortMin:   60,
		WarnLongMin:    120,
		RejectLongMin:  180,
		RejectShortMin: 1,
	}
}

// Result はflexibleモードの3段階判定結果。
// Acceptedがfalseの場合のみRejectReasonが設定される。
// Warningsは受け入れを妨げない。
type Result struct {
	Accepted     bool
	RejectReason string
	Warnings     []string
}

// Strict はフォーム入力向けの厳格な検証を行う。
// 違反があれば最初に見つかった理由をエラーとして返す。問題なければnil。
func (p Policy) Strict(start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("終了時刻は開始時刻より後である必要があります")
	}

	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy != ey || sm != em || sd != ed {
		return fmt.Errorf("セッションは複数日にまたがることはできません")
	}

	startMin := clockMinutes(start)
	endMin := clockMinutes(end)
	if startMin < p.StrictWorkStart.minutes() || startMin >= p.StrictWorkEnd.minutes() {
		return fmt.Errorf("開始時刻は %s から %s の間である必要があります",
			p.StrictWorkStart, p.StrictWorkEnd)
	}
	if endMin > p.StrictWorkEnd.minutes() {
		return fmt.Errorf("終了時刻は %s までである必要があります", p.StrictWorkEnd)
	}

	durMin := int(end.Sub(start).Minutes())
	if durMin < p.StrictMinMin {
		return fmt.Errorf("セッションは最低 %d 分必要です", p.StrictMinMin)
	}
	if durMin > p.StrictMaxMin {
		return fmt.Errorf("セッションは最大 %d 分までです", p.StrictMaxMin)
	}

	return nil
}

// Flexible は外部カレンダーからのインポート向けの3段階検証を行う。
// リジェクトは当該レコードの永続化のみを妨げ、バッチ全体は中断しない。
func (p Policy) Flexible(start, end time.Time) Result {
	// ハードリジェクト
	if !end.After(start) {
		return Result{RejectReason: "終了時刻は開始時刻より後である必要があります"}
	}

	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy != ey || sm != em || sd != ed {
		return Result{RejectReason: "セッションは複数日にまたがることはできません"}
	}

	durMin := end.Sub(start).Minutes()
	if durMin > float64(p.RejectLongMin) {
		return Result{RejectReason: fmt.Sprintf(
			"時間が長すぎます: %.1f 時間（最大: %d 分）", durMin/60, p.RejectLongMin)}
	}
	if durMin < float64(p.RejectShortMin) {
		return Result{RejectReason: fmt.Sprintf(
			"時間が短すぎます: %d 分（最低: %d 分）", int(durMin), p.RejectShortMin)}
	}

	// 警告（永続化は妨げない）
	var warnings []string
	warnings = append(warnings, p.timeWindowWarnings(start)...)
	warnings = append(warnings, p.durationWarnings(durMin)...)
	warnings = append(warnings, weekendWarnings(start)...)

	return Result{Accepted: true, Warnings: warnings}
}

// timeWindowWarnings は推奨時間帯外の開始時刻に対する警告を返す。
// 拡張時間帯の内か外かで警告の強さを変える。
func (p Policy) timeWindowWarnings(start time.Time) []string {
	var warnings []string
	startMin := clockMinutes(start)

	if startMin < p.RecommendedStart.minutes() {
		if startMin >= p.ExtendedStart.minutes() {
			warnings = append(warnings, fmt.Sprintf(
				"早い開始時刻: %02d:%02d（推奨: %s-%s）",
				start.Hour(), start.Minute(), p.RecommendedStart, p.RecommendedEnd))
		} else {
			warnings = append(warnings, fmt.Sprintf(
				"非常に早い開始時刻: %02d:%02d（下限: %s）",
				start.Hour(), start.Minute(), p.ExtendedStart))
		}
	}

	if startMin > p.RecommendedEnd.minutes() {
		if startMin <= p.ExtendedEnd.minutes() {
			warnings = append(warnings, fmt.Sprintf(
				"遅い開始時刻: %02d:%02d（推奨: %s-%s）",
				start.Hour(), start.Minute(), p.RecommendedStart, p.RecommendedEnd))
		} else {
			warnings = append(warnings, fmt.Sprintf(
				"非常に遅い開始時刻: %02d:%02d（上限: %s）",
				start.Hour(), start.Minute(), p.ExtendedEnd))
		}
	}

	return warnings
}

// durationWarnings は時間長に対する警告を返す。
// 長時間の境界はWarnLongMin（リジェクト境界RejectLongMinより手前）。
func (p Policy) durationWarnings(durMin float64) []string {
	var warnings []string

	if durMin < float64(p.WarnShortMin) {
		warnings = append(warnings, fmt.Sprintf(
			"短いセッション: %d 分（推奨: %d 分以上）", int(durMin), p.WarnShortMin))
	}
	if durMin > float64(p.WarnLongMin) {
		warnings = append(warnings, fmt.Sprintf(
			"長いセッション: %.1f 時間（推奨: %d 分以下）", durMin/60, p.WarnLongMin))
	}

	return warnings
}

// weekendWarnings は週末のセッションに対する警告を返す。
func weekendWarnings(start time.Time) []string {
	switch start.Weekday() {
	case time.Saturday, time.Sunday:
		return []string{fmt.Sprintf("週末のセッション: %s", start.Weekday())}
	default:
		return nil
	}
}

// clockMinutes は時刻の0:00からの経過分を返す。
func clockMinutes(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
