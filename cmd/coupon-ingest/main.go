// Command coupon-ingest loads coupon codes from gzip-compressed code lists
// into coupon discounts. A code becomes a coupon when it appears in at least
// --min-files of the lists.
package main

import (
	"bufio"
	"context"
	"flag"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	batchSize     = 1000
)

// codeRules maps well-known codes to their discount; other codes get
// defaultRule.
var codeRules = map[string]discount.Discount{
	"FIFTYOFF": {Name: "50% off the order", Scope: discount.ScopeSubtotal, UsePercentage: true, Percentage: decimal.NewFromInt(50)},
	"SIXTYOFF": {Name: "60% off the order", Scope: discount.ScopeSubtotal, UsePercentage: true, Percentage: decimal.NewFromInt(60)},
	"GNULINUX": {Name: "Open source discount", Scope: discount.ScopeSubtotal, UsePercentage: true, Percentage: decimal.NewFromInt(15)},
	"OVER9000": {Name: "9 off your order", Scope: discount.ScopeOrderTotal, Amount: decimal.NewFromInt(9)},
	"HAPPYHRS": {Name: "Happy hours", Scope: discount.ScopeSubtotal, UsePercentage: true, Percentage: decimal.NewFromInt(18)},
	"FREESHIP": {Name: "Free shipping", Scope: discount.ScopeShipping, UsePercentage: true, Percentage: decimal.NewFromInt(100)},
}

var defaultRule = discount.Discount{
	Name:            "Promo code",
	Scope:           discount.ScopeSubtotal,
	UsePercentage:   true,
	Percentage:      decimal.NewFromInt(10),
	Limitation:      discount.NTimesPerCustomer,
	LimitationTimes: 1,
}

func main() {
	var (
		dataDir     string
		pattern     string
		minFiles    int
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing code lists")
	flag.StringVar(&pattern, "pattern", "couponbase*.gz", "glob of code list files inside data-dir")
	flag.IntVar(&minFiles, "min-files", 2, "number of lists a code must appear in")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "find codes without writing them")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		lg.Fatal("Bad pattern", zap.Error(err))
	}
	if len(files) < minFiles {
		lg.Fatal("Not enough code lists", zap.Int("found", len(files)), zap.Int("min_files", minFiles))
	}
	slices.Sort(files)

	if err := run(ctx, lg, files, minFiles, databaseURL, dryRun); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, files []string, minFiles int, databaseURL string, dryRun bool) error {
	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildBloomFilters(ctx, lg, files, bloomCapacity)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: finding shared codes")
	codes, err := findValidCodes(ctx, lg, files, filters, minFiles)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}
	lg.Info("Valid codes found", zap.Int("count", len(codes)))

	if len(codes) == 0 || dryRun {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	repo := postgres.NewDiscountRepository(postgres.NewDB(pool))
	return writeCoupons(ctx, lg, repo, codes)
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, lg *zap.Logger, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count uint64
			err := streamGzFile(ctx, path, func(code string) {
				if !validLength(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.String("file", path), zap.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			lg.Info("Pass 1 complete", zap.String("file", path), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findValidCodes re-streams each file and checks codes against the other
// files' filters. A bitmask per code records which files hold it, so bloom
// false positives in one filter cannot promote a code on their own.
func findValidCodes(ctx context.Context, lg *zap.Logger, files []string, filters []*bloom.BloomFilter, minFiles int) ([]string, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)
			err := streamGzFile(ctx, path, func(code string) {
				if !validLength(code) {
					return
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= fileBit
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			lg.Info("Pass 2 complete", zap.String("file", path), zap.Int("candidates", len(candidates)))
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}
	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minFiles {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

func validLength(code string) bool {
	return len(code) >= minCodeLen && len(code) <= maxCodeLen
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
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
	return errors.Wrapf(scanner.Err(), "scan %s", path)
}

type couponWriter interface {
	SaveCoupons(ctx context.Context, ds []discount.Discount) error
}

// couponFor builds the discount for code.
func couponFor(code string) discount.Discount {
	d, ok := codeRules[code]
	if !ok {
		d = defaultRule
	}
	d.CouponCode = code
	d.RequiresCouponCode = true
	if d.Limitation == "" {
		d.Limitation = discount.Unlimited
	}
	return d
}

// writeCoupons upserts codes in batches.
func writeCoupons(ctx context.Context, lg *zap.Logger, repo couponWriter, codes []string) error {
	for start := 0; start < len(codes); start += batchSize {
		end := min(start+batchSize, len(codes))
		batch := make([]discount.Discount, 0, end-start)
		for _, code := range codes[start:end] {
			batch = append(batch, couponFor(code))
		}
		if err := repo.SaveCoupons(ctx, batch); err != nil {
			return errors.Wrapf(err, "save coupons %d-%d", start, end)
		}
		lg.Info("Write progress", zap.Int("written", end), zap.Int("total", len(codes)))
	}
	return nil
}
