package gtfs

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

// ServiceDayType groups service days that normally run the same schedule
type ServiceDayType int

const (
	WeekdayService ServiceDayType = iota
	SaturdayService
	SundayService
)

func (s ServiceDayType) String() string {
	switch s {
	case SaturdayService:
		return "saturday"
	case SundayService:
		return "sunday"
	default:
		return "weekday"
	}
}

// ServiceDayClassifier decides which ServiceDayType a date runs. Observed holidays run sunday service.
type ServiceDayClassifier struct {
	calendar *cal.BusinessCalendar
}

// MakeServiceDayClassifier builds ServiceDayClassifier observing the usual US transit holidays
func MakeServiceDayClassifier() *ServiceDayClassifier {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.MemorialDay,
		us.IndependenceDay,
		us.LaborDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
		us.Juneteenth,
	)
	return &ServiceDayClassifier{calendar: calendar}
}

// IsHoliday returns true if serviceDay is an observed holiday
func (s *ServiceDayClassifier) IsHoliday(serviceDay time.Time) bool {
	_, observed, _ := s.calendar.IsHoliday(serviceDay)
	return observed
}

// DayType returns the ServiceDayType of serviceDay
func (s *ServiceDayClassifier) DayType(serviceDay time.Time) ServiceDayType {
	if s.IsHoliday(serviceDay) {
		return SundayService
	}
	switch serviceDay.Weekday() {
	case time.Saturday:
		return SaturdayService
	case time.Sunday:
		return SundayService
	}
	return WeekdayService
}

// SameDayType returns true if both days run the same ServiceDayType
func (s *ServiceDayClassifier) SameDayType(first time.Time, second time.Time) bool {
	return s.DayType(first) == s.DayType(second)
}
