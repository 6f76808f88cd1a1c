// Package validate decides whether an artifact file on disk can be trusted:
// present, sized as expected, checksum-correct and, optionally, loadable.
package validate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ChunkSize is the read size used when digesting files.
const ChunkSize = 8 * 1024

// Expect lists the optional checks for Validate. Zero values skip a check.
type Expect struct {
	Checksum  string
	SizeBytes int64
	LoadTest  bool
}

// Config configures a Validator.
type Config struct {
	// Engine is used for load tests; nil makes every load test fail.
	Engine Engine
	// CPUWorkers bounds concurrent digest and load-test work (default runtime.NumCPU()).
	CPUWorkers int
	Logger     *zerolog.Logger
}

// Validator runs integrity checks on the CPU worker pool.
type Validator struct {
	engine Engine
	cpu    *semaphore.Weighted
	log    zerolog.Logger
}

// New constructs a Validator, applying defaults for unset fields.
func New(cfg Config) *Validator {
	workers := cfg.CPUWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	v := &Validator{
		engine: cfg.Engine,
		cpu:    semaphore.NewWeighted(int64(workers)),
		log:    zerolog.Nop(),
	}
	if cfg.Logger != nil {
		v.log = *cfg.Logger
	}
	return v
}

// Validate runs the ordered checks and stops at the first failure. The error
// is non-nil only when the work itself could not run (I/O or cancellation);
// verdicts are carried in the Outcome.
func (v *Validator) Validate(ctx context.Context, path string, exp Expect) (Outcome, error) {
	size, out, err := statNonEmpty(path)
	if err != nil || !out.OK() {
		return out, err
	}
	if exp.SizeBytes > 0 && !withinOnePercent(size, exp.SizeBytes) {
		return failed(ReasonSizeMismatch, fmt.Sprintf("got %d bytes, want %d", size, exp.SizeBytes)), nil
	}
	res := Outcome{SizeBytes: size}
	if exp.Checksum != "" {
		sum, err := v.FileSHA256(ctx, path)
		if err != nil {
			return Outcome{}, err
		}
		if !strings.EqualFold(sum, strings.TrimSpace(exp.Checksum)) {
			return failed(ReasonChecksumMismatch, fmt.Sprintf("got %s, want %s", sum, exp.Checksum)), nil
		}
		res.Checksum = sum
	}
	if exp.LoadTest {
		in, outN, lt := v.loadTest(ctx, path)
		if !lt.OK() {
			return lt, nil
		}
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		res.LoadTested, res.Inputs, res.Outputs = true, in, outN
	}
	v.log.Debug().Str("path", path).Int64("size", size).Bool("load_tested", res.LoadTested).Msg("validate ok")
	return res, nil
}

// QuickValidate checks existence, non-emptiness and checksum only.
func (v *Validator) QuickValidate(ctx context.Context, path, checksum string) (Outcome, error) {
	return v.Validate(ctx, path, Expect{Checksum: checksum})
}

// NeedsUpdate reports whether the file at path is missing or differs from
// latestChecksum. Any I/O error also reports true so callers re-download
// rather than serve a possibly stale file.
func (v *Validator) NeedsUpdate(ctx context.Context, path, latestChecksum string) bool {
	if _, err := os.Stat(path); err != nil {
		return true
	}
	if latestChecksum == "" {
		return false
	}
	sum, err := v.FileSHA256(ctx, path)
	if err != nil {
		v.log.Debug().Err(err).Str("path", path).Msg("needs update: digest failed")
		return true
	}
	return !strings.EqualFold(sum, strings.TrimSpace(latestChecksum))
}

// FileSHA256 streams path through SHA-256 in ChunkSize reads, checking ctx
// between chunks, and returns the lower-case hex digest.
func (v *Validator) FileSHA256(ctx context.Context, path string) (string, error) {
	if err := v.cpu.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer v.cpu.Release(1)
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", rerr
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// loadTest opens a live handle, counts tensors and always releases it.
func (v *Validator) loadTest(ctx context.Context, path string) (inputs, outputs int, out Outcome) {
	if v.engine == nil {
		return 0, 0, failed(ReasonLoadTestFailed, "no inference engine configured")
	}
	if err := v.cpu.Acquire(ctx, 1); err != nil {
		return 0, 0, failed(ReasonLoadTestFailed, err.Error())
	}
	defer v.cpu.Release(1)

	var h Handle
	defer func() {
		if r := recover(); r != nil {
			out = failed(ReasonLoadTestFailed, fmt.Sprintf("engine panic: %v", r))
		}
		if h != nil {
			if cerr := h.Close(); cerr != nil && out.OK() {
				out = failed(ReasonLoadTestFailed, "close: "+cerr.Error())
			}
		}
	}()
	var err error
	h, err = v.engine.Open(path)
	if err != nil {
		return 0, 0, failed(ReasonCorruptedArtifact, err.Error())
	}
	inputs, outputs = h.InputCount(), h.OutputCount()
	if inputs < 1 || outputs < 1 {
		return inputs, outputs, failed(ReasonInvalidStructure, fmt.Sprintf("inputs=%d outputs=%d", inputs, outputs))
	}
	return inputs, outputs, Outcome{}
}

func statNonEmpty(path string) (int64, Outcome, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, failed(ReasonFileNotFound, path), nil
		}
		return 0, Outcome{}, err
	}
	if fi.IsDir() {
		return 0, failed(ReasonFileNotFound, path+" is a directory"), nil
	}
	if fi.Size() == 0 {
		return 0, failed(ReasonEmptyFile, path), nil
	}
	return fi.Size(), Outcome{}, nil
}

func withinOnePercent(actual, expected int64) bool {
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	return diff*100 <= expected
}
