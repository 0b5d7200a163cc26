package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-rewards/internal/domain/coupon"
)

// scanner finds codes listed in at least minFiles of the input files.
//
// Pass one builds a bloom filter per file. Pass two re-reads every file and
// keeps the codes whose bloom hits reach the quorum; each file only records
// its own membership, so false positives never inflate the final count.
type scanner struct {
	lg            *zap.Logger
	minFiles      int
	minLen        int
	maxLen        int
	capacity      uint
	fpRate        float64
	progressEvery uint64
}

func (s *scanner) accept(code string) bool {
	return len(code) >= s.minLen && len(code) <= s.maxLen
}

// Scan returns the qualifying codes, normalized and sorted.
func (s *scanner) Scan(ctx context.Context, files []string) ([]string, error) {
	if len(files) > bits.UintSize {
		return nil, errors.Errorf("at most %d files supported, got %d", bits.UintSize, len(files))
	}
	if s.minFiles > len(files) {
		return nil, errors.Errorf("quorum %d exceeds file count %d", s.minFiles, len(files))
	}

	filters, err := s.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}
	return s.collect(ctx, files, filters)
}

func (s *scanner) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(s.capacity, s.fpRate)
			var n uint64
			if err := streamCodes(ctx, path, func(code string) {
				if !s.accept(code) {
					return
				}
				filter.AddString(code)
				n++
				if s.progressEvery > 0 && n%s.progressEvery == 0 {
					s.lg.Info("Indexing", zap.String("file", path), zap.Uint64("codes", n))
				}
			}); err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			s.lg.Info("Indexed file", zap.String("file", path), zap.Uint64("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func (s *scanner) collect(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	seen := make([]map[string]struct{}, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found := make(map[string]struct{})
			if err := streamCodes(ctx, path, func(code string) {
				if !s.accept(code) {
					return
				}
				hits := 1
				for j, f := range filters {
					if j != i && f.TestString(code) {
						hits++
					}
				}
				if hits >= s.minFiles {
					found[code] = struct{}{}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			s.lg.Info("Scanned file", zap.String("file", path), zap.Int("candidates", len(found)))
			seen[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	membership := make(map[string]uint)
	for i, found := range seen {
		for code := range found {
			membership[code] |= 1 << uint(i)
		}
	}

	var codes []string
	for code, mask := range membership {
		if bits.OnesCount(mask) >= s.minFiles {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

// streamCodes calls fn with every normalized non-empty line of a gzip file.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code := coupon.NormalizeCode(sc.Text()); code != "" {
			fn(code)
		}
	}
	return sc.Err()
}
