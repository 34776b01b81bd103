package seed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

// 表头与员工字段的对应关系，除姓名和邮箱外都可以省略
const (
	headerName            = "姓名"
	headerEmail           = "邮箱"
	headerSkillMatch      = "技能匹配度"
	headerPreference      = "偏好度"
	headerAvailability    = "可用度"
	headerAttendanceScore = "出勤分"
	headerPreferredShift  = "偏好班次"
)

var preferredShiftMap = map[string]domain.PreferredShift{
	"":   domain.PreferredShiftNone,
	"早班": domain.PreferredShiftMorning,
	"晚班": domain.PreferredShiftEvening,
	"无":  domain.PreferredShiftNone,

	string(domain.PreferredShiftMorning): domain.PreferredShiftMorning,
	string(domain.PreferredShiftEvening): domain.PreferredShiftEvening,
	string(domain.PreferredShiftNone):    domain.PreferredShiftNone,
}

type Store interface {
	CreateEmployee(employee *domain.Employee) error
}

// ReadEmployees 解析员工花名册，遇到第一条不合法的记录就返回错误
func ReadEmployees(r io.Reader) ([]*domain.Employee, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	// 读取表头
	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	for _, required := range []string{headerName, headerEmail} {
		if !slices.Contains(headers, required) {
			return nil, fmt.Errorf("没有找到 %s 列", required)
		}
	}

	// 读取数据
	var employees []*domain.Employee
	line := 1
	for {
		row, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("读取文件失败: %w", err)
		}
		line++

		record := make(map[string]string)
		for i, value := range row {
			record[headers[i]] = strings.TrimSpace(value)
		}

		employee, err := parseEmployee(record)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		employees = append(employees, employee)
	}

	return employees, nil
}

func parseEmployee(record map[string]string) (*domain.Employee, error) {
	employee := &domain.Employee{
		Name:  record[headerName],
		Email: record[headerEmail],
	}
	if employee.Name == "" || employee.Email == "" {
		return nil, errors.New("姓名和邮箱不能为空")
	}

	scores := []struct {
		header string
		dst    *float64
		def    float64
	}{
		{headerSkillMatch, &employee.SkillMatch, 0.5},
		{headerPreference, &employee.Preference, 0.5},
		{headerAvailability, &employee.Availability, 1},
		{headerAttendanceScore, &employee.AttendanceScore, 1},
	}
	for _, s := range scores {
		value := record[s.header]
		if value == "" {
			*s.dst = s.def
			continue
		}

		v, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("%s 必须是 0 到 1 之间的数字", s.header)
		}
		*s.dst = v
	}

	preferred, ok := preferredShiftMap[strings.ToLower(record[headerPreferredShift])]
	if !ok {
		return nil, fmt.Errorf("无法识别的偏好班次 %q", record[headerPreferredShift])
	}
	employee.PreferredShift = preferred

	return employee, nil
}

// SeedEmployees 把花名册中的员工写入数据库，已存在或写入失败的员工只记录日志
func SeedEmployees(store Store, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("打开文件失败: %w", err)
	}
	defer file.Close()

	employees, err := ReadEmployees(file)
	if err != nil {
		return 0, err
	}

	cnt := 0
	for _, employee := range employees {
		if err := store.CreateEmployee(employee); err != nil {
			slog.Error("插入员工失败", "email", employee.Email, "error", err)
			continue
		}
		cnt++
	}

	slog.Info("插入数据完成", "count", cnt, "total", len(employees))
	return cnt, nil
}
