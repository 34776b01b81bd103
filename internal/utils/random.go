package utils

import (
	"math"
	"math/rand"
	"time"

	"github.com/mozillazg/go-pinyin"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

var commonSurnames = []string{
	"王", "李", "张", "刘", "陈", "杨", "赵", "黄", "周", "吴",
	"徐", "孙", "胡", "朱", "高", "林", "何", "郭", "马", "罗",
}
var commonNameCharacters = []string{
	"伟", "强", "芳", "敏", "静", "丽", "刚", "杰", "娟", "勇",
	"艳", "涛", "明", "军", "磊", "洋", "勇", "霞", "飞", "玲",
	"超", "华", "平", "辉", "梅", "鑫", "龙", "鹏", "玉", "斌",
	"庆", "建", "丹", "彬", "凤", "旭", "宁", "乐", "成", "欣",
}

func GenerateRandomChineseName() string {
	surname := commonSurnames[rand.Intn(len(commonSurnames))]
	nameLength := rand.Intn(2) + 1
	name := ""

	for i := 0; i < nameLength; i++ {
		name += commonNameCharacters[rand.Intn(len(commonNameCharacters))]
	}
	return surname + name
}

var digits = "0123456789"

// GenerateEmailLocalPart 用姓名拼音的前缀加上几位数字作为邮箱前缀
func GenerateEmailLocalPart(chineseName string) string {
	pinyinArray := pinyin.LazyConvert(chineseName, nil)
	local := ""

	for _, py := range pinyinArray {
		length := rand.Intn(len(py)) + 1
		local += py[:length]
	}

	digitsLength := rand.Intn(3) + 1
	for i := 0; i < digitsLength; i++ {
		local += string(digits[rand.Intn(len(digits))])
	}

	return local
}

// randomScore 返回保留两位小数的 [0, 1] 之间的随机数
func randomScore() float64 {
	return math.Round(rand.Float64()*100) / 100
}

var preferredShifts = []domain.PreferredShift{
	domain.PreferredShiftMorning,
	domain.PreferredShiftEvening,
	domain.PreferredShiftNone,
}

func GenerateRandomEmployee(emailDomainName string) *domain.Employee {
	name := GenerateRandomChineseName()

	employee := &domain.Employee{
		Name:            name,
		Email:           GenerateEmailLocalPart(name) + "@" + emailDomainName,
		SkillMatch:      randomScore(),
		Preference:      randomScore(),
		Availability:    1,
		AttendanceScore: randomScore(),
		PreferredShift:  preferredShifts[rand.Intn(len(preferredShifts))],
	}

	// 少数员工处于不可用状态，方便观察释放班次的流程
	if rand.Intn(10) == 0 {
		employee.Availability = 0
	} else {
		employee.Availability = math.Max(0.1, randomScore())
	}

	return employee
}

// 用 Fisher-Yates 洗牌算法从接下来的 days 天中随机选出 n 个日期
func GenerateRandomDates(from time.Time, days, n int) []string {
	offsets := make([]int, days)
	for i := range offsets {
		offsets[i] = i
	}

	for i := len(offsets) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		offsets[i], offsets[j] = offsets[j], offsets[i]
	}

	n = min(n, days)
	dates := make([]string, n)
	for i := range dates {
		dates[i] = from.AddDate(0, 0, offsets[i]).Format(domain.DateLayout)
	}
	return dates
}

func GenerateRandomShift(date string) *domain.Shift {
	shift := &domain.Shift{
		Date:    date,
		Urgency: randomScore(),
	}

	switch rand.Intn(5) {
	case 0:
		shift.ShiftType = domain.ShiftTypeCustom
		startHour := rand.Intn(12) + 6
		shift.StartTime = time.Date(0, 1, 1, startHour, 0, 0, 0, time.UTC).Format("15:04")
		shift.EndTime = time.Date(0, 1, 1, startHour+rand.Intn(4)+2, 30, 0, 0, time.UTC).Format("15:04")
	case 1, 2:
		shift.ShiftType = domain.ShiftTypeEvening
		shift.StartTime = "17:00"
		shift.EndTime = "23:00"
	default:
		shift.ShiftType = domain.ShiftTypeMorning
		shift.StartTime = "09:00"
		shift.EndTime = "17:00"
	}

	return shift
}
