// Package dashboard reads the admin views of the Camper Stories backend:
// the camper roster with completeness details, incomplete registrations,
// per-campus lists, and donations.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	adminEndpoint      = "/admin"
	incompleteEndpoint = "/admin/incomplete"
	myCampusEndpoint   = "/admin/campers/my-campus"
	campersEndpoint    = "/campers"
	campusEndpoint     = "/campus"
)

// defaultConcurrency bounds roster detail fetches when none is configured.
const defaultConcurrency = 4

// Getter issues authenticated GETs. *pipeline.Client satisfies it.
type Getter interface {
	GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error
}

// Camper is one row of the camper listing.
type Camper struct {
	ID             int64  `json:"camper_id" yaml:"camper_id"`
	FullName       string `json:"full_name" yaml:"full_name"`
	ProfilePicture string `json:"profile_picture,omitempty" yaml:"profile_picture,omitempty"`
	MainVideoURL   string `json:"main_video_url,omitempty" yaml:"main_video_url,omitempty"`
}

// Details records which profile sections a camper has filled in.
type Details struct {
	HasDreams   bool `json:"has_dreams" yaml:"has_dreams"`
	HasProjects bool `json:"has_projects" yaml:"has_projects"`
	HasVideos   bool `json:"has_videos" yaml:"has_videos"`
	// Missing is set when the details could not be fetched; all sections
	// then read as absent.
	Missing bool `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// Record is a backend object whose shape the dashboard only displays.
type Record map[string]interface{}

// Service reads dashboard data through the request pipeline.
type Service struct {
	api         Getter
	concurrency int
	logger      *slog.Logger
}

// NewService creates a Service. concurrency bounds parallel detail fetches
// while building the roster; values below 1 use the default of 4.
func NewService(api Getter, concurrency int, logger *slog.Logger) *Service {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		api:         api,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "dashboard")),
	}
}

// Overview returns the admin landing data.
func (s *Service) Overview(ctx context.Context) (Record, error) {
	var out Record
	if err := s.api.GetJSON(ctx, adminEndpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching overview: %w", err)
	}

	return out, nil
}

// Campers lists every registered camper.
func (s *Service) Campers(ctx context.Context) ([]Camper, error) {
	return s.campers(ctx, campersEndpoint, "campers")
}

// Incomplete lists campers whose registration is unfinished.
func (s *Service) Incomplete(ctx context.Context) ([]Camper, error) {
	return s.campers(ctx, incompleteEndpoint, "incomplete campers")
}

// MyCampus lists the campers of the signed-in admin's campus.
func (s *Service) MyCampus(ctx context.Context) ([]Camper, error) {
	return s.campers(ctx, myCampusEndpoint, "campus campers")
}

// Unlisted lists the campus's campers hidden from the public site.
func (s *Service) Unlisted(ctx context.Context, campus string) ([]Camper, error) {
	return s.campers(ctx, adminEndpoint+"/"+url.PathEscape(campus)+"/getAllUnlisted", "unlisted campers")
}

func (s *Service) campers(ctx context.Context, path, what string) ([]Camper, error) {
	var out []Camper
	if err := s.api.GetJSON(ctx, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", what, err)
	}

	return out, nil
}

// Donations lists the donation records for a campus.
func (s *Service) Donations(ctx context.Context, campusID int64) ([]Record, error) {
	var out []Record

	path := adminEndpoint + "/donatedCampers/" + strconv.FormatInt(campusID, 10)
	if err := s.api.GetJSON(ctx, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching donations: %w", err)
	}

	return out, nil
}

// CampusByCity resolves the campus ID serving a city. The backend answers
// with a bare number or an object carrying campus_id or id.
func (s *Service) CampusByCity(ctx context.Context, cityID int64) (int64, error) {
	var raw json.RawMessage

	path := campusEndpoint + "/" + strconv.FormatInt(cityID, 10) + "/city"
	if err := s.api.GetJSON(ctx, path, nil, &raw); err != nil {
		return 0, fmt.Errorf("resolving campus for city %d: %w", cityID, err)
	}

	r := gjson.ParseBytes(raw)
	if r.IsArray() && len(r.Array()) > 0 {
		r = r.Array()[0]
	}

	if r.IsObject() {
		for _, key := range []string{"campus_id", "campusId", "id"} {
			if v := r.Get(key); v.Exists() {
				r = v
				break
			}
		}
	}

	if r.Type != gjson.Number {
		return 0, fmt.Errorf("resolving campus for city %d: %w: no campus id", cityID, apperrors.ErrAPIResponse)
	}

	return r.Int(), nil
}

// CamperDetails fetches a camper's dreams, projects and videos in parallel.
// A section counts as present when the backend returns a non-empty array.
func (s *Service) CamperDetails(ctx context.Context, camperID int64) (Details, error) {
	base := campersEndpoint + "/" + strconv.FormatInt(camperID, 10)

	var d Details

	g, gctx := errgroup.WithContext(ctx)
	for _, section := range []struct {
		path string
		has  *bool
	}{
		{path: base + "/dreams", has: &d.HasDreams},
		{path: base + "/proyects", has: &d.HasProjects},
		{path: base + "/videos", has: &d.HasVideos},
	} {
		g.Go(func() error {
			var raw json.RawMessage
			if err := s.api.GetJSON(gctx, section.path, nil, &raw); err != nil {
				return err
			}

			r := gjson.ParseBytes(raw)
			*section.has = r.IsArray() && len(r.Array()) > 0

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Details{}, fmt.Errorf("fetching details for camper %d: %w", camperID, err)
	}

	return d, nil
}

// BuildRoster lists campers with their details. A camper whose details
// cannot be fetched is kept with Details.Missing set; an expired session
// or a cancelled context aborts the whole roster.
func (s *Service) BuildRoster(ctx context.Context) (*Roster, error) {
	campers, err := s.Campers(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(campers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, c := range campers {
		g.Go(func() error {
			d, err := s.CamperDetails(gctx, c.ID)
			if err != nil {
				if errors.Is(err, apperrors.ErrSessionExpired) || gctx.Err() != nil {
					return err
				}

				s.logger.Warn("camper details unavailable",
					slog.Int64("camper_id", c.ID),
					slog.String("error", err.Error()),
				)

				d = Details{Missing: true}
			}

			entries[i] = newEntry(c, d)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building roster: %w", err)
	}

	return &Roster{Entries: entries}, nil
}
