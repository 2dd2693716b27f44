package lode

import (
	"context"
	"fmt"
	"sort"

	"github.com/justapithecus/lode/lode"
)

// EpisodeSummary is a finalized episode as read back from the dataset.
type EpisodeSummary struct {
	RunID        string
	Source       string
	EpisodeIndex int64
	Length       int64
	Task         string
	FPS          float64
	FramesDir    string
	FinalizedAt  string
}

// QueryEpisodes lists finalized episodes, filtered by runID and source if non-empty.
// Results are ordered by run then episode index. An episode seen in several
// snapshots is reported once.
func QueryEpisodes(ctx context.Context, ds lode.Dataset, runID, source string) ([]EpisodeSummary, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	type key struct {
		run   string
		index int64
	}
	seen := make(map[key]struct{})
	var out []EpisodeSummary

	for _, snap := range snapshots {
		if !snapshotHasKind(snap, RecordKindEpisode) ||
			!snapshotMatchesFilter(snap, "run_id", runID) ||
			!snapshotMatchesFilter(snap, "source", source) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || !recordMatches(record, RecordKindEpisode, runID, source) {
				continue
			}
			ep := toEpisodeSummary(record)
			k := key{ep.RunID, ep.EpisodeIndex}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, ep)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RunID != out[j].RunID {
			return out[i].RunID < out[j].RunID
		}
		return out[i].EpisodeIndex < out[j].EpisodeIndex
	})
	return out, nil
}

func toEpisodeSummary(record map[string]any) EpisodeSummary {
	fps, _ := record["fps"].(float64)
	return EpisodeSummary{
		RunID:        toString(record["run_id"]),
		Source:       toString(record["source"]),
		EpisodeIndex: toInt64(record["episode_index"]),
		Length:       toInt64(record["length"]),
		Task:         toString(record["task"]),
		FPS:          fps,
		FramesDir:    toString(record["frames_dir"]),
		FinalizedAt:  toString(record["finalized_at"]),
	}
}
