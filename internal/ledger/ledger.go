// Package ledger 根据已分配的班次统计每个员工的历史工作量，用于公平性排序
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

// Ledger 记录每个员工按天、按 ISO 周、按月以及总计的班次数量
type Ledger struct {
	days   map[int64]map[string]int // {employeeID: {date: count}}
	weeks  map[int64]map[string]int // {employeeID: {week: count}}
	months map[int64]map[string]int // {employeeID: {month: count}}
	totals map[int64]int
}

func New() *Ledger {
	return &Ledger{
		days:   make(map[int64]map[string]int),
		weeks:  make(map[int64]map[string]int),
		months: make(map[int64]map[string]int),
		totals: make(map[int64]int),
	}
}

// Build 从所有已分配的班次中构建 Ledger，未分配的班次会被忽略
func Build(shifts []*domain.Shift) *Ledger {
	l := New()
	for _, shift := range shifts {
		if shift == nil || shift.AssignedTo == nil {
			continue
		}
		l.Add(*shift.AssignedTo, shift.Date)
	}
	return l
}

// Add 为员工记录一个班次。日期无法解析时只计入总数
func (l *Ledger) Add(employeeID int64, date string) {
	l.totals[employeeID]++

	d, ok := ParseDate(date)
	if !ok {
		return
	}

	increment(l.days, employeeID, d.Format(domain.DateLayout))
	increment(l.weeks, employeeID, WeekKey(d))
	increment(l.months, employeeID, MonthKey(d))
}

func increment(m map[int64]map[string]int, employeeID int64, key string) {
	if _, exists := m[employeeID]; !exists {
		m[employeeID] = make(map[string]int)
	}
	m[employeeID][key]++
}

func (l *Ledger) Total(employeeID int64) int {
	return l.totals[employeeID]
}

func (l *Ledger) DayCount(employeeID int64, date string) int {
	return l.days[employeeID][date]
}

func (l *Ledger) WeekCount(employeeID int64, week string) int {
	return l.weeks[employeeID][week]
}

func (l *Ledger) MonthCount(employeeID int64, month string) int {
	return l.months[employeeID][month]
}

// EmployeesOnDate 返回在该日期已经有班次的员工数量
func (l *Ledger) EmployeesOnDate(date string) int {
	cnt := 0
	for _, dates := range l.days {
		if dates[date] > 0 {
			cnt++
		}
	}
	return cnt
}

// Clone 深拷贝，使得一次排班中的修改不会影响原来的快照
func (l *Ledger) Clone() *Ledger {
	c := New()
	for id, total := range l.totals {
		c.totals[id] = total
	}
	copyNested(c.days, l.days)
	copyNested(c.weeks, l.weeks)
	copyNested(c.months, l.months)
	return c
}

func copyNested(dst, src map[int64]map[string]int) {
	for id, inner := range src {
		m := make(map[string]int, len(inner))
		for k, v := range inner {
			m[k] = v
		}
		dst[id] = m
	}
}

// ParseDate 解析 YYYY-MM-DD 格式的日期，前后空白会被忽略
func ParseDate(date string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, false
	}
	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// WeekKey 返回 ISO 周的键（周一为一周的开始，包含当年第一个周四的周为第 1 周），例如 2024-W23
func WeekKey(d time.Time) string {
	year, week := d.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// MonthKey 返回月份的键，例如 2024-06
func MonthKey(d time.Time) string {
	return d.Format("2006-01")
}
