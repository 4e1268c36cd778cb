package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/apperr"
)

// Occupancy is an active (non-cancelled) appointment holding a slot start.
type Occupancy struct {
	AppointmentID uuid.UUID
	Date          Date
	Time          Clock
}

// OccupancyReader lists active appointments of a doctor over a date range.
type OccupancyReader interface {
	ListOccupancy(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]Occupancy, error)
}

// Cache is a byte cache for projected days. Failures are never fatal.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type SlotState struct {
	Time          Clock      `json:"time"`
	Booked        bool       `json:"booked"`
	Past          bool       `json:"past,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

// DayAvailability partitions the grid of one date into available and booked
// slots. Unbooked slots that already started are listed in Past instead of
// Available. Outside lists active appointments that no longer sit on the
// grid, e.g. after the day was closed.
type DayAvailability struct {
	Resolution
	Slots     []SlotState `json:"slots"`
	Available []Clock     `json:"available"`
	Booked    []Clock     `json:"booked"`
	Past      []Clock     `json:"past,omitempty"`
	Outside   []SlotState `json:"outside,omitempty"`
}

// Project partitions the grid for res using the day's occupancy.
func Project(res Resolution, grid []Clock, occupied map[Clock]uuid.UUID) DayAvailability {
	day := DayAvailability{
		Resolution: res,
		Slots:      []SlotState{},
		Available:  []Clock{},
		Booked:     []Clock{},
	}

	onGrid := make(map[Clock]bool, len(grid))
	if res.Working {
		for _, t := range grid {
			onGrid[t] = true
			st := SlotState{Time: t}
			if id, ok := occupied[t]; ok {
				id := id
				st.Booked = true
				st.AppointmentID = &id
				day.Booked = append(day.Booked, t)
			} else {
				day.Available = append(day.Available, t)
			}
			day.Slots = append(day.Slots, st)
		}
	}

	for t, id := range occupied {
		if onGrid[t] {
			continue
		}
		id := id
		day.Outside = append(day.Outside, SlotState{Time: t, Booked: true, AppointmentID: &id})
	}
	sortSlotStates(day.Outside)
	return day
}

func sortSlotStates(s []SlotState) {
	sort.Slice(s, func(i, j int) bool { return s[i].Time < s[j].Time })
}

// AsOf flags the grid slots that start at or before now in loc, the same
// cut bookings use. Unbooked ones move from Available to Past.
func (d DayAvailability) AsOf(now time.Time, loc *time.Location) DayAvailability {
	if len(d.Slots) == 0 {
		return d
	}
	out := d
	out.Slots = make([]SlotState, 0, len(d.Slots))
	out.Available = []Clock{}
	out.Past = nil
	for _, st := range d.Slots {
		st.Past = !st.Time.On(d.Date, loc).After(now)
		switch {
		case st.Booked:
		case st.Past:
			out.Past = append(out.Past, st.Time)
		default:
			out.Available = append(out.Available, st.Time)
		}
		out.Slots = append(out.Slots, st)
	}
	return out
}

// ProjectorConfig tunes a Projector. Location is the clinic time zone that
// decides which slots are past; it defaults to UTC.
type ProjectorConfig struct {
	Cache        Cache
	CacheTTL     time.Duration
	MaxRangeDays int
	Location     *time.Location
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Projector answers availability queries from the schedule layers and the
// current occupancy. Results are snapshots and do not reserve anything.
type Projector struct {
	resolver  *Resolver
	occupancy OccupancyReader
	grids     *GridCache
	cache     Cache
	cacheTTL  time.Duration
	maxDays   int
	loc       *time.Location
	now       func() time.Time
	log       zerolog.Logger
}

func NewProjector(resolver *Resolver, occupancy OccupancyReader, grids *GridCache, cfg ProjectorConfig) *Projector {
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 62
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Projector{
		resolver:  resolver,
		occupancy: occupancy,
		grids:     grids,
		cache:     cfg.Cache,
		cacheTTL:  cfg.CacheTTL,
		maxDays:   cfg.MaxRangeDays,
		loc:       cfg.Location,
		now:       cfg.Now,
		log:       cfg.Logger.With().Str("component", "projector").Logger(),
	}
}

// AvailabilityKey is the cache key of one projected day under a doctor's
// cache generation.
func AvailabilityKey(doctorID uuid.UUID, generation int64, date Date) string {
	return fmt.Sprintf("%s%d:%s", availabilityPrefix(doctorID), generation, date)
}

func availabilityPrefix(doctorID uuid.UUID) string {
	return fmt.Sprintf("avail:%s:", doctorID)
}

// GenerationKey holds the counter bumped by every write affecting a doctor.
func GenerationKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("availgen:%s", doctorID)
}

// Day projects a single date.
func (p *Projector) Day(ctx context.Context, doctorID uuid.UUID, date Date) (DayAvailability, error) {
	days, err := p.Range(ctx, doctorID, date, date)
	if err != nil {
		return DayAvailability{}, err
	}
	return days[0], nil
}

// Range projects every date in [from, to].
func (p *Projector) Range(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]DayAvailability, error) {
	if to.Before(from) {
		return nil, apperr.Invalid("to", "must not be before from")
	}
	if span := from.DaysUntil(to) + 1; span > p.maxDays {
		return nil, apperr.Invalid("to", fmt.Sprintf("range must not exceed %d days", p.maxDays))
	}

	now := p.now()
	gen, cacheable := p.generation(ctx, doctorID)
	if cacheable {
		if cached, ok := p.fromCache(ctx, doctorID, gen, from, to); ok {
			for i := range cached {
				cached[i] = cached[i].AsOf(now, p.loc)
			}
			return cached, nil
		}
	}

	src, err := p.resolver.Load(ctx, doctorID, from, to)
	if err != nil {
		return nil, apperr.Persistence("load schedule", err)
	}
	occ, err := p.occupancy.ListOccupancy(ctx, doctorID, from, to)
	if err != nil {
		return nil, apperr.Persistence("load occupancy", err)
	}

	byDate := make(map[Date]map[Clock]uuid.UUID)
	for _, o := range occ {
		m, ok := byDate[o.Date]
		if !ok {
			m = make(map[Clock]uuid.UUID)
			byDate[o.Date] = m
		}
		m[o.Time] = o.AppointmentID
	}

	var days []DayAvailability
	for d := from; !d.After(to); d = d.AddDays(1) {
		res := Resolve(src, d)
		var grid []Clock
		if res.Working {
			grid = p.grids.Slots(*res.Hours)
		}
		day := Project(res, grid, byDate[d])
		if cacheable {
			p.store(ctx, doctorID, gen, day)
		}
		days = append(days, day.AsOf(now, p.loc))
	}
	return days, nil
}

// generation reads the doctor's cache generation before any data is loaded.
// Writes bump it after committing, so a snapshot loaded before a write is
// stored under a key that later reads no longer use.
func (p *Projector) generation(ctx context.Context, doctorID uuid.UUID) (int64, bool) {
	if p.cache == nil {
		return 0, false
	}
	raw, ok, err := p.cache.Get(ctx, GenerationKey(doctorID))
	if err != nil {
		p.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache read failed")
		return 0, false
	}
	if !ok {
		return 0, true
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		p.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("malformed availability cache generation")
		return 0, false
	}
	return gen, true
}

func (p *Projector) fromCache(ctx context.Context, doctorID uuid.UUID, gen int64, from, to Date) ([]DayAvailability, bool) {
	var days []DayAvailability
	for d := from; !d.After(to); d = d.AddDays(1) {
		raw, ok, err := p.cache.Get(ctx, AvailabilityKey(doctorID, gen, d))
		if err != nil {
			p.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache read failed")
			return nil, false
		}
		if !ok {
			return nil, false
		}
		var day DayAvailability
		if err := json.Unmarshal(raw, &day); err != nil {
			return nil, false
		}
		days = append(days, day)
	}
	return days, true
}

func (p *Projector) store(ctx context.Context, doctorID uuid.UUID, gen int64, day DayAvailability) {
	raw, err := json.Marshal(day)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, AvailabilityKey(doctorID, gen, day.Date), raw, p.cacheTTL); err != nil {
		p.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache write failed")
	}
}

// bump moves the doctor to a new cache generation and returns it.
func (p *Projector) bump(ctx context.Context, doctorID uuid.UUID) (int64, bool) {
	gen, err := p.cache.Incr(ctx, GenerationKey(doctorID))
	if err != nil {
		p.log.Error().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache invalidation failed")
		return 0, false
	}
	return gen, true
}

// Invalidate retires every cached projection of the doctor. Entries of the
// previous generation for dates are deleted right away; the rest expire.
func (p *Projector) Invalidate(ctx context.Context, doctorID uuid.UUID, dates ...Date) {
	if p.cache == nil {
		return
	}
	gen, ok := p.bump(ctx, doctorID)
	if !ok || len(dates) == 0 {
		return
	}
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, AvailabilityKey(doctorID, gen-1, d))
	}
	if err := p.cache.Delete(ctx, keys...); err != nil {
		p.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache cleanup failed")
	}
}

// InvalidateDoctor retires and deletes every cached projection of a doctor.
func (p *Projector) InvalidateDoctor(ctx context.Context, doctorID uuid.UUID) {
	if p.cache == nil {
		return
	}
	if _, ok := p.bump(ctx, doctorID); !ok {
		return
	}
	if err := p.cache.DeletePrefix(ctx, availabilityPrefix(doctorID)); err != nil {
		p.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache cleanup failed")
	}
}
