// Command promo-ingest grants promotional coupons to customers who appear in
// at least two campaign audience exports. Exports are gzip-compressed files of
// newline-delimited owner IDs, typically tens of millions of lines each, so
// membership is cross-checked with bloom filters instead of in-memory sets.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/emberline/checkout-api/internal/domain/coupon"
	"github.com/emberline/checkout-api/internal/storage/postgres"
)

const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.001
	progressEvery = 5_000_000
	minOwnerLen   = 4
	maxOwnerLen   = 64
)

// fileResult holds candidate owners found in a single export during pass 2.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataDir     string
		databaseURL string
		numFiles    int
		percent     int
		validDays   int
		codePrefix  string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing audienceN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&numFiles, "files", 3, "number of audience files to cross-reference")
	flag.IntVar(&percent, "percent", 10, "discount percent for granted coupons")
	flag.IntVar(&validDays, "valid-days", 30, "coupon validity in days")
	flag.StringVar(&codePrefix, "code-prefix", "PROMO", "prefix for generated coupon codes")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if numFiles < 2 {
		slog.Error("at least two audience files are required to cross-reference")
		os.Exit(1)
	}
	if percent <= 0 || percent > 100 {
		slog.Error("percent must be in (0, 100]", slog.Int("percent", percent))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, numFiles, percent, validDays, codePrefix); err != nil {
		slog.Error("promo ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, numFiles, percent, validDays int, codePrefix string) error {
	files := make([]string, numFiles)
	for i := range numFiles {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("audience%d.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: build one bloom filter per export, concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", numFiles))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: find owners appearing in 2+ exports.
	slog.Info("pass 2: finding eligible owners")

	owners, err := findEligibleOwners(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find eligible owners")
	}

	slog.Info("eligible owners found", slog.Int("count", len(owners)))

	if len(owners) == 0 {
		slog.Info("no coupons to grant")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := grantCoupons(ctx, postgres.NewCouponStore(pool), owners, percent, validDays, codePrefix); err != nil {
		return errors.Wrap(err, "grant coupons")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per export, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(owner string) {
			if len(owner) >= minOwnerLen && len(owner) <= maxOwnerLen {
				filter.AddString(owner)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress",
						slog.Int("file", idx+1),
						slog.Uint64("owners", count),
					)
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for file %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_owners", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findEligibleOwners re-streams each export and checks owners against OTHER
// exports' bloom filters. An owner is eligible when present in 2 or more.
func findEligibleOwners(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all exports.
	merged := make(map[string]uint)
	for _, r := range results {
		for owner, mask := range r.candidates {
			merged[owner] |= mask
		}
	}

	// Keep owners appearing in 2+ exports.
	var eligible []string
	for owner, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			eligible = append(eligible, owner)
		}
	}

	return eligible, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(owner string) {
			if len(owner) < minOwnerLen || len(owner) > maxOwnerLen {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("file", idx+1),
					slog.Uint64("owners", count),
				)
			}

			// Check if this owner appears in any OTHER export's bloom filter.
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(owner) {
					candidates[owner] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan file %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_owners", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(owner string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// grantCoupons mints one promo coupon per eligible owner, replacing whatever
// coupon the owner holds. Code collisions get a fresh suffix and one retry.
func grantCoupons(ctx context.Context, store coupon.Store, owners []string, percent, validDays int, codePrefix string) error {
	slog.Info("granting promo coupons", slog.Int("count", len(owners)))

	for i, owner := range owners {
		now := time.Now()
		c := &coupon.Coupon{
			Code:            coupon.NewCode(codePrefix),
			OwnerID:         owner,
			DiscountPercent: percent,
			Active:          true,
			ExpiresAt:       now.AddDate(0, 0, validDays),
			CreatedAt:       now,
		}

		err := store.ReplaceForOwner(ctx, c)
		if errors.Is(err, coupon.ErrCodeCollision) {
			c.Code = coupon.NewCode(codePrefix)
			err = store.ReplaceForOwner(ctx, c)
		}
		if err != nil {
			return errors.Wrapf(err, "grant coupon to %s", owner)
		}

		if (i+1)%100 == 0 || i+1 == len(owners) {
			slog.Info("grant progress", slog.Int("granted", i+1), slog.Int("total", len(owners)))
		}
	}

	return nil
}
