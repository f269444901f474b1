// Package ranking blends the independent scoring engines into one ranked,
// paginated recommendation list.
//
// The mixer orchestrates four signal sources on top of the popularity and
// recency baseline: the tag-affinity engine, the plain collaborative engine,
// and the social-weighted collaborative engine. Each engine's scores are
// normalized to [0, 1] and combined under a calibrated weight profile that
// always sums to 1. Users below the cold-start interaction threshold get the
// behavior-based weights zeroed and redistributed to the baseline signals.
//
// Engine failures and timeouts degrade the affected component to zero rather
// than failing the request; in the worst case the response is a pure
// popularity ranking. Ranked pages are cached per (user, page, limit,
// excludes, weight version) key with whole-snapshot invalidation per user.
package ranking
