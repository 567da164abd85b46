package cache

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"magnus-advisor/pkg/position"
)

// DefaultBucketPct is the price bucket width as a percent of the entry price.
const DefaultBucketPct = 1.0

// Fingerprint keys a position for caching: symbol, strategy, strike, a quantized current
// price bucket and the UTC day. Positions whose price stays within one bucket on the same
// day share a key. The day comes from snap.AsOf, or now when AsOf is unset.
func Fingerprint(snap position.Snapshot, bucketPct float64, now time.Time) string {
	day := snap.AsOf
	if day.IsZero() {
		day = now
	}
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(strings.TrimSpace(snap.Symbol)))
	sb.WriteByte('|')
	sb.WriteString(string(snap.Strategy))
	sb.WriteByte('|')
	if snap.Strategy.IsOption() {
		sb.WriteString(strconv.FormatFloat(snap.StrikePrice, 'f', 2, 64))
	} else {
		sb.WriteByte('-')
	}
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "b%d", PriceBucket(snap.CurrentPrice, snap.EntryPrice, bucketPct))
	sb.WriteByte('|')
	sb.WriteString(day.UTC().Format(time.DateOnly))
	return sb.String()
}

// PriceBucket quantizes price into buckets bucketPct percent of ref wide.
func PriceBucket(price, ref, bucketPct float64) int64 {
	if bucketPct <= 0 {
		bucketPct = DefaultBucketPct
	}
	if ref <= 0 {
		ref = price
	}
	width := ref * bucketPct / 100
	if width <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	return int64(math.Floor(price / width))
}
