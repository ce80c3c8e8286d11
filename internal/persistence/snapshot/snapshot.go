package snapshot

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/gridworld"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/reserve"
	"hearthwork.ai/internal/sim/scenario"
	"hearthwork.ai/internal/sim/timeline"
	"hearthwork.ai/internal/sim/tuning"
)

const Version = 1

var ErrDigest = errors.New("snapshot digest mismatch")

// Header is the plain JSON first line of a snapshot file. Digest is the
// blake3 of the CBOR body before compression.
type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Step    uint64 `json:"step"`
	Digest  string `json:"digest"`

	SpeciesDigest string `json:"species_digest,omitempty"`
	ItemsDigest   string `json:"items_digest,omitempty"`
}

type Body struct {
	Tuning   tuning.Tuning   `cbor:"tuning"`
	Ledger   reserve.State   `cbor:"ledger"`
	Projects project.State   `cbor:"projects"`
	World    gridworld.State `cbor:"world"`

	// Scenario is set when a scenario runner drives the run.
	Scenario *scenario.State `cbor:"scenario,omitempty"`
}

type Snapshot struct {
	Header Header
	Body   Body
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: cbor decoder: " + err.Error())
	}
}

// Capture takes the engine, its ledger and w as they stand between steps.
// Pending intents are settled first.
func Capture(runID string, e *project.Engine, w *gridworld.World, cats *catalogs.Catalogs) Snapshot {
	projects := e.Export()
	s := Snapshot{
		Header: Header{Version: Version, RunID: runID, Step: e.Now()},
		Body: Body{
			Tuning:   e.Tuning(),
			Ledger:   e.Ledger().Export(),
			Projects: projects,
			World:    w.Export(),
		},
	}
	if cats != nil {
		s.Header.SpeciesDigest = cats.Species.Digest
		s.Header.ItemsDigest = cats.Items.Digest
	}
	return s
}

func encodeBody(b Body) ([]byte, string, error) {
	raw, err := encMode.Marshal(b)
	if err != nil {
		return nil, "", fmt.Errorf("cbor encode: %w", err)
	}
	sum := blake3.Sum256(raw)
	return raw, hex.EncodeToString(sum[:]), nil
}

// Write stores s at path, filling in the header version and digest.
func Write(path string, s Snapshot) (Header, error) {
	raw, digest, err := encodeBody(s.Body)
	if err != nil {
		return Header{}, err
	}
	h := s.Header
	h.Version = Version
	h.Digest = digest

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return h, err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return h, err
	}
	if err := writeTo(f, h, raw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return h, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return h, err
	}
	return h, os.Rename(tmp, path)
}

func writeTo(f *os.File, h Header, raw []byte) error {
	bw := bufio.NewWriterSize(f, 256*1024)
	hb, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadHeader reads only the first line of the snapshot at path.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("snapshot header: unsupported version %d", h.Version)
	}
	return h, nil
}

// Read loads the snapshot at path and verifies its body digest.
func Read(path string) (Snapshot, error) {
	var s Snapshot
	f, err := os.Open(path)
	if err != nil {
		return s, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 256*1024)
	h, err := readHeader(br)
	if err != nil {
		return s, err
	}
	dec, err := zstd.NewReader(br)
	if err != nil {
		return s, err
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return s, fmt.Errorf("snapshot body: %w", err)
	}
	sum := blake3.Sum256(raw)
	if got := hex.EncodeToString(sum[:]); got != h.Digest {
		return s, fmt.Errorf("%w: header %s body %s", ErrDigest, h.Digest, got)
	}
	if err := decMode.Unmarshal(raw, &s.Body); err != nil {
		return s, fmt.Errorf("cbor decode: %w", err)
	}
	s.Header = h
	return s, nil
}

// Restored is a running simulation rebuilt from a snapshot.
type Restored struct {
	Ledger   *reserve.Ledger
	Timeline *timeline.Timeline
	World    *gridworld.World
	Engine   *project.Engine
}

// Restore rebuilds ledger, clock, world and engine from s. objectives
// supply the worker controllers that snapshots do not carry; hooks may be
// nil.
func Restore(s Snapshot, cats *catalogs.Catalogs, objectives func(model.ActorID) project.Objective, hooks func(project.Kind) project.Hooks, opts ...project.Option) (*Restored, error) {
	if cats == nil {
		return nil, fmt.Errorf("restore: catalogs required")
	}
	if d := s.Header.SpeciesDigest; d != "" && d != cats.Species.Digest {
		return nil, fmt.Errorf("restore: species catalog changed since step %d", s.Header.Step)
	}
	if d := s.Header.ItemsDigest; d != "" && d != cats.Items.Digest {
		return nil, fmt.Errorf("restore: item catalog changed since step %d", s.Header.Step)
	}
	tu := s.Body.Tuning
	if err := tu.Validate(); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	ledger := reserve.NewLedger(nil)
	if err := ledger.Import(s.Body.Ledger); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	tl := timeline.New(tu.ReadWorkers)
	tl.SetNow(s.Header.Step)
	w := gridworld.New(gridworld.Config{Carry: tu.Haul.Carry()}, ledger, cats)
	if err := w.Import(s.Body.World); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	e := project.NewEngine(w, ledger, tl, tu, opts...)
	if err := e.Import(s.Body.Projects, objectives, hooks); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return &Restored{Ledger: ledger, Timeline: tl, World: w, Engine: e}, nil
}
