package rooms

import (
	"errors"
	"time"

	"github.com/kramQAQ/inksprint/internal/apierr"
	"github.com/kramQAQ/inksprint/internal/store"
)

// analyticsWindow bounds get_analytics to the trailing year (spec.md §4.J).
const analyticsWindow = 365 * 24 * time.Hour

// detailsLimit caps get_details to the most recent sessions
// (original_source/server/main.py: handle_get_details limit(20)).
const detailsLimit = 20

// SyncData records one writing-session increment from the client. Calls
// with no progress at all (increment<=0 and duration<=0) are ignored,
// matching the reference client's heartbeat-style sync calls that carry no
// new words.
func (s *Service) SyncData(callerID int64, increment, duration int64, clientUnix int64, localDate string) error {
	if increment <= 0 && duration <= 0 {
		return nil
	}

	endTime := clientUnix
	if endTime == 0 {
		endTime = s.now().Unix()
	}
	if err := s.store.AppendDetailRecord(callerID, increment, duration, "client_sync", endTime); err != nil {
		return apierr.Wrap(apierr.Transient, "sync_data_failed", err)
	}

	reportDate := localDate
	if reportDate == "" {
		reportDate = time.Unix(endTime, 0).UTC().Format("2006-01-02")
	}
	if err := s.store.AddDailyWords(callerID, reportDate, increment); err != nil {
		return apierr.Wrap(apierr.Transient, "sync_data_failed", err)
	}

	groupID, err := s.store.MemberGroupID(callerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apierr.Wrap(apierr.Transient, "sync_data_failed", err)
	}
	g, err := s.store.GetGroup(groupID)
	if err != nil || !g.SprintActive {
		return nil
	}
	if err := s.store.AddSprintScore(groupID, callerID, increment); err != nil {
		return apierr.Wrap(apierr.Transient, "sync_data_failed", err)
	}
	memberIDs, err := s.store.GroupMemberIDs(groupID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "sync_data_failed", err)
	}
	s.reg.SendToMany(memberIDs, map[string]any{"type": "sprint_status_push", "group_id": groupID})
	return nil
}

// GetAnalytics returns a date -> total_words heatmap for callerID's trailing
// year (spec.md §4.J).
func (s *Service) GetAnalytics(callerID int64) (map[string]int64, error) {
	from := s.now().Add(-analyticsWindow).UTC().Format("2006-01-02")
	to := s.now().UTC().Format("2006-01-02")
	reports, err := s.store.DailyReportsFor(callerID, from, to)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_analytics_failed", err)
	}
	heatmap := make(map[string]int64, len(reports))
	for _, r := range reports {
		heatmap[r.ReportDate] = r.TotalWords
	}
	return heatmap, nil
}

// DetailView is one entry of get_details.
type DetailView struct {
	Time      string
	Increment int64
	Duration  int64
}

// GetDetails returns callerID's most recent writing sessions.
func (s *Service) GetDetails(callerID int64) ([]DetailView, error) {
	records, err := s.store.RecentDetailRecords(callerID, detailsLimit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "get_details_failed", err)
	}
	out := make([]DetailView, 0, len(records))
	for _, r := range records {
		out = append(out, DetailView{
			Time:      time.Unix(r.EndTime, 0).UTC().Format("2006-01-02 15:04"),
			Increment: r.WordIncrement,
			Duration:  r.DurationSeconds,
		})
	}
	return out, nil
}
