package services

import (
	"context"

	"github.com/notezilla/apiserver/types"
)

// StatsRepository defines persistence operations for endpoint counters.
type StatsRepository interface {
	Record(ctx context.Context, method, endpoint string) error
	List(ctx context.Context) ([]types.EndpointStat, error)
}

// UsersReport lists every account with its call count.
type UsersReport struct {
	Users         []types.User `json:"users"`
	TotalUsers    int          `json:"totalUsers"`
	TotalAPICalls int          `json:"totalApiCalls"`
}

// EndpointsReport lists every tracked route with its call count.
type EndpointsReport struct {
	Stats          []types.EndpointStat `json:"stats"`
	TotalEndpoints int                  `json:"totalEndpoints"`
	TotalRequests  int                  `json:"totalRequests"`
}

// AdminService provides read-only reporting plus endpoint call tracking.
type AdminService struct {
	users UserRepository
	stats StatsRepository
}

func NewAdminService(users UserRepository, stats StatsRepository) *AdminService {
	return &AdminService{users: users, stats: stats}
}

func (s *AdminService) Users(ctx context.Context) (UsersReport, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return UsersReport{}, err
	}
	report := UsersReport{Users: users, TotalUsers: len(users)}
	for _, user := range users {
		report.TotalAPICalls += user.APICalls
	}
	return report, nil
}

func (s *AdminService) Endpoints(ctx context.Context) (EndpointsReport, error) {
	stats, err := s.stats.List(ctx)
	if err != nil {
		return EndpointsReport{}, err
	}
	report := EndpointsReport{Stats: stats, TotalEndpoints: len(stats)}
	for _, stat := range stats {
		report.TotalRequests += stat.Count
	}
	return report, nil
}

// RecordCall counts one completed request to method and endpoint.
func (s *AdminService) RecordCall(ctx context.Context, method, endpoint string) error {
	return s.stats.Record(ctx, method, endpoint)
}
