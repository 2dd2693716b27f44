package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/marksman/lode"
	"github.com/justapithecus/marksman/log"
	"github.com/justapithecus/marksman/types"
)

// MainCameraKey names the image feature in meta.json.
const MainCameraKey = "observation.images.main"

// Config describes what a LodeRecorder writes.
type Config struct {
	// DatasetName is written into meta.json.
	DatasetName string
	Task        string
	TaskIndex   int
	// Width and Height are the frame dimensions written into meta.json.
	Width  int
	Height int
	// SpoolDir stages live episodes. Required.
	SpoolDir string
}

// LodeRecorder stages each episode in a local spool and publishes it to the
// dataset on finalize: frames first, then step records, then the episode
// record. Discarded episodes never leave the spool.
type LodeRecorder struct {
	cfg    Config
	client lode.Client
	files  lode.FileWriter
	logger *log.Logger
	now    func() time.Time

	spool       *spool
	index       uint32
	fps         float64
	startedAt   time.Time
	metaWritten bool
}

// NewLodeRecorder creates a recorder writing through client and files.
// A nil logger discards logs.
func NewLodeRecorder(cfg Config, client lode.Client, files lode.FileWriter, logger *log.Logger) (*LodeRecorder, error) {
	if cfg.SpoolDir == "" {
		return nil, errors.New("recorder spool dir is required")
	}
	if client == nil || files == nil {
		return nil, errors.New("recorder requires a lode client and file writer")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &LodeRecorder{
		cfg:    cfg,
		client: client,
		files:  files,
		logger: logger,
		now:    time.Now,
	}, nil
}

// StartEpisode implements Recorder. An episode still in progress is
// discarded first.
func (r *LodeRecorder) StartEpisode(ctx context.Context, index uint32, fps float64) error {
	if r.spool != nil {
		r.logger.Warn("starting episode with previous one unfinished, discarding it", map[string]any{
			"episode_index": r.index,
		})
		if err := r.DiscardEpisode(ctx); err != nil {
			return err
		}
	}

	if !r.metaWritten {
		if err := r.writeMeta(ctx, fps); err != nil {
			return err
		}
		r.metaWritten = true
	}

	s, err := createSpool(r.cfg.SpoolDir, index)
	if err != nil {
		return err
	}
	r.spool = s
	r.index = index
	r.fps = fps
	r.startedAt = r.now()
	return nil
}

// RecordStep implements Recorder.
func (r *LodeRecorder) RecordStep(_ context.Context, step types.EpisodeStep, image []byte) error {
	if r.spool == nil {
		return ErrNoEpisode
	}
	return r.spool.append(step, image)
}

// FinalizeEpisode implements Recorder. The spool is removed whether or not
// publishing succeeds.
func (r *LodeRecorder) FinalizeEpisode(ctx context.Context) (err error) {
	if r.spool == nil {
		return ErrNoEpisode
	}
	s := r.spool
	r.spool = nil
	defer func() {
		if rmErr := s.remove(); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("removing spool: %w", rmErr))
		}
	}()

	records := make([]lode.StepRecord, 0, s.n)
	err = s.replay(func(i int, e *spoolEntry) error {
		var imagePath string
		if len(e.Image) > 0 {
			imagePath = lode.EpisodeFramePath(r.index, i)
			if err := r.files.PutFile(ctx, imagePath, e.Image); err != nil {
				return fmt.Errorf("writing frame %d: %w", i, err)
			}
		}
		records = append(records, lode.StepRecord{
			EpisodeIndex: r.index,
			FrameIndex:   i,
			Timestamp:    e.Step.Timestamp,
			Action:       e.Step.Action,
			State:        e.Step.State,
			Task:         r.cfg.Task,
			TaskIndex:    r.cfg.TaskIndex,
			ImagePath:    imagePath,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("finalizing episode %d: %w", r.index, err)
	}

	if err := r.client.WriteSteps(ctx, records); err != nil {
		return fmt.Errorf("finalizing episode %d: %w", r.index, err)
	}
	err = r.client.WriteEpisode(ctx, lode.EpisodeRecord{
		EpisodeIndex: r.index,
		Length:       len(records),
		Task:         r.cfg.Task,
		TaskIndex:    r.cfg.TaskIndex,
		FPS:          r.fps,
		FramesDir:    lode.EpisodeDir(r.index),
		StartedAt:    r.startedAt,
		FinalizedAt:  r.now(),
	})
	if err != nil {
		return fmt.Errorf("finalizing episode %d: %w", r.index, err)
	}

	r.logger.Info("episode finalized", map[string]any{
		"episode_index": r.index,
		"steps":         len(records),
	})
	return nil
}

// DiscardEpisode implements Recorder.
func (r *LodeRecorder) DiscardEpisode(context.Context) error {
	if r.spool == nil {
		return ErrNoEpisode
	}
	s := r.spool
	r.spool = nil
	r.logger.Info("episode discarded", map[string]any{
		"episode_index": r.index,
		"steps":         s.n,
	})
	if err := s.remove(); err != nil {
		return fmt.Errorf("removing spool: %w", err)
	}
	return nil
}

// Close implements Recorder. An unfinished episode is dropped. The lode
// client is owned by the caller and stays open.
func (r *LodeRecorder) Close() error {
	if r.spool == nil {
		return nil
	}
	s := r.spool
	r.spool = nil
	return s.remove()
}

// meta is the run-level dataset description.
type meta struct {
	DatasetName string             `json:"dataset_name"`
	FPS         float64            `json:"fps"`
	VideoWidth  int                `json:"video_width"`
	VideoHeight int                `json:"video_height"`
	Tasks       []metaTask         `json:"tasks"`
	Features    map[string]feature `json:"features"`
}

type metaTask struct {
	TaskName  string `json:"task_name"`
	TaskIndex int    `json:"task_index"`
}

type feature struct {
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

func (r *LodeRecorder) writeMeta(ctx context.Context, fps float64) error {
	m := meta{
		DatasetName: r.cfg.DatasetName,
		FPS:         fps,
		VideoWidth:  r.cfg.Width,
		VideoHeight: r.cfg.Height,
		Tasks:       []metaTask{{TaskName: r.cfg.Task, TaskIndex: r.cfg.TaskIndex}},
		Features: map[string]feature{
			MainCameraKey:       {DType: "image", Shape: []int{r.cfg.Height, r.cfg.Width, 3}},
			"observation.state": {DType: "float32", Shape: []int{types.StateLen}},
			"action":            {DType: "float32", Shape: []int{types.ActionLen}},
			"timestamp":         {DType: "float32", Shape: []int{1}},
		},
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", lode.MetaFileName, err)
	}
	if err := r.files.PutFile(ctx, lode.MetaFileName, data); err != nil {
		return fmt.Errorf("writing %s: %w", lode.MetaFileName, err)
	}
	return nil
}

var _ Recorder = (*LodeRecorder)(nil)
