package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/apperr"
	"github.com/hackgods/clinic-slot-booking/internal/audit"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var reasons = []string{
	"first visit",
	"follow-up",
	"lab results review",
	"prescription renewal",
	"annual checkup",
	"post-operative control",
}

type seedOptions struct {
	Doctors int
	Days    int
	Fill    float64
	Seed    uint64
}

type seedResult struct {
	Doctors      int
	WeeklyRules  int
	Appointments int
}

type doctorStore interface {
	CreateDoctor(ctx context.Context, d *appointment.Doctor) error
}

type ruleWriter interface {
	CreateWeeklyRule(ctx context.Context, rule schedule.WeeklyRule) (*schedule.WeeklyRule, error)
}

type booker interface {
	Create(ctx context.Context, req appointment.CreateRequest) (*appointment.Appointment, error)
}

// seeder writes through the services so seeded data passes the same
// validation and booking rules as live traffic.
type seeder struct {
	doctors  doctorStore
	rules    ruleWriter
	bookings booker
	loc      *time.Location
	opts     seedOptions
	faker    *gofakeit.Faker
	now      func() time.Time
}

func newSeeder(doctors doctorStore, rules ruleWriter, bookings booker, loc *time.Location, opts seedOptions) *seeder {
	return &seeder{
		doctors:  doctors,
		rules:    rules,
		bookings: bookings,
		loc:      loc,
		opts:     opts,
		faker:    gofakeit.New(opts.Seed),
		now:      time.Now,
	}
}

func (s *seeder) Run(ctx context.Context) (seedResult, error) {
	var res seedResult
	ctx = audit.WithActor(ctx, audit.Actor{ID: "seed", UserAgent: "schedctl"})

	for i := 0; i < s.opts.Doctors; i++ {
		specialty := s.faker.RandomString(specialties)
		doc := &appointment.Doctor{
			Name:      "Dr. " + s.faker.Name(),
			Specialty: &specialty,
		}
		if err := s.doctors.CreateDoctor(ctx, doc); err != nil {
			return res, fmt.Errorf("create doctor: %w", err)
		}
		res.Doctors++

		hours := s.hours()
		for wd := time.Monday; wd <= time.Friday; wd++ {
			if _, err := s.rules.CreateWeeklyRule(ctx, schedule.WeeklyRule{
				DoctorID:  doc.ID,
				Weekday:   wd,
				HoursSpec: hours,
				Active:    true,
			}); err != nil {
				return res, fmt.Errorf("create weekly rule: %w", err)
			}
			res.WeeklyRules++
		}

		n, err := s.book(ctx, doc.ID, hours.Hours())
		if err != nil {
			return res, err
		}
		res.Appointments += n
	}
	return res, nil
}

func (s *seeder) hours() schedule.HoursSpec {
	start := schedule.NewClock(s.faker.Number(7, 9), 0)
	breakStart := schedule.NewClock(12, 0)
	breakEnd := schedule.NewClock(13, 0)
	return schedule.HoursSpec{
		StartTime:   start,
		EndTime:     schedule.NewClock(s.faker.Number(15, 18), 0),
		BreakStart:  &breakStart,
		BreakEnd:    &breakEnd,
		SlotMinutes: s.faker.RandomInt([]int{15, 20, 30}),
	}
}

// book fills a share of the grid of each upcoming weekday, starting tomorrow.
func (s *seeder) book(ctx context.Context, doctorID uuid.UUID, hours schedule.Hours) (int, error) {
	booked := 0
	tomorrow := schedule.DateOf(s.now().In(s.loc)).AddDays(1)

	for d := 0; d < s.opts.Days; d++ {
		date := tomorrow.AddDays(d)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for _, at := range schedule.Generate(hours) {
			if s.faker.Float64Range(0, 1) >= s.opts.Fill {
				continue
			}
			_, err := s.bookings.Create(ctx, s.request(doctorID, date, at))
			if errors.Is(err, apperr.ErrSlotConflict) {
				continue
			}
			if err != nil {
				return booked, fmt.Errorf("book %s %s: %w", date, at, err)
			}
			booked++
		}
	}
	return booked, nil
}

func (s *seeder) request(doctorID uuid.UUID, date schedule.Date, at schedule.Clock) appointment.CreateRequest {
	req := appointment.CreateRequest{
		DoctorID: doctorID,
		Patient: appointment.Patient{
			PatientName:  s.faker.Name(),
			PatientPhone: s.faker.Phone(),
		},
		Description: s.faker.RandomString(reasons),
		Date:        date,
		Time:        at,
	}
	if s.faker.Bool() {
		ni := s.faker.SSN()
		req.NationalInsurance = &ni
	}
	return req
}
