package service

import (
	"context"
	"fmt"

	"github.com/voyagen/guidevault/internal/identity"
	"github.com/voyagen/guidevault/internal/jobs"
	"github.com/voyagen/guidevault/internal/mapping"
	"github.com/voyagen/guidevault/internal/models"
)

// RunImport executes a JSON mapping import, or a cross-playlist mapping copy
// when the request names a source playlist.
func (s *Service) RunImport(ctx context.Context, req jobs.Request, rep *jobs.Reporter) (*jobs.ImportOutcome, error) {
	pl, err := s.store.GetPlaylist(ctx, req.Target.ID)
	if err != nil {
		return nil, fmt.Errorf("load playlist: %w", err)
	}
	strategy, err := identity.ForPlaylist(pl)
	if err != nil {
		return nil, fmt.Errorf("identifier: %w", err)
	}

	if err := rep.Advance(ctx, models.JobDownloading, progressDownloading, "loading channels"); err != nil {
		return nil, err
	}
	target, err := s.store.ListChannels(ctx, pl.ID)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}

	var res mapping.Result
	if req.SourcePlaylistID != nil {
		res, err = s.copyFrom(ctx, *req.SourcePlaylistID, pl.ID, target, strategy, rep)
		if err != nil {
			return nil, err
		}
	} else {
		if err := rep.Advance(ctx, models.JobParsing, progressParsing,
			fmt.Sprintf("matching %d entries", len(req.Entries))); err != nil {
			return nil, err
		}
		res = mapping.ImportEntries(req.Entries, target, strategy)
	}

	if err := rep.Advance(ctx, models.JobImporting, progressWriting,
		fmt.Sprintf("writing %d mappings", len(res.Updates))); err != nil {
		return nil, err
	}
	updates := make(map[int64]models.ChannelMapping, len(res.Updates))
	for _, u := range res.Updates {
		if u.Mapping != nil {
			updates[u.ChannelID] = *u.Mapping
		}
	}
	if err := s.store.ApplyMappings(ctx, pl.ID, updates); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &jobs.ImportOutcome{Mapped: res.Mapped, NotFound: res.NotFound, Unmatched: res.Unmatched}, nil
}

func (s *Service) copyFrom(ctx context.Context, sourceID, targetID int64, target []models.Channel, targetStrategy identity.Strategy, rep *jobs.Reporter) (mapping.Result, error) {
	if sourceID == targetID {
		return mapping.Result{}, invalid("cannot copy mappings of a playlist onto itself")
	}
	src, err := s.store.GetPlaylist(ctx, sourceID)
	if err != nil {
		return mapping.Result{}, fmt.Errorf("load source playlist: %w", err)
	}
	srcStrategy, err := identity.ForPlaylist(src)
	if err != nil {
		return mapping.Result{}, fmt.Errorf("source identifier: %w", err)
	}
	channels, err := s.store.ListChannels(ctx, src.ID)
	if err != nil {
		return mapping.Result{}, fmt.Errorf("load source channels: %w", err)
	}
	if err := rep.Advance(ctx, models.JobParsing, progressParsing,
		fmt.Sprintf("matching %d channels of %s", len(channels), src.Name)); err != nil {
		return mapping.Result{}, err
	}
	return mapping.CopyMappings(channels, srcStrategy, target, targetStrategy), nil
}
