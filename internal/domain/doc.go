// Package domain models the per-municipality COVID-19 panel built from
// Belgian public health and statistics sources.
//
// # Data Sources
//
// Case counts come from the Sciensano epidemiological CSV
// (COVID19BE_CASES_MUNI), one row per municipality per day with columns
// NIS5, DATE and CASES. Counts below five are censored upstream and published
// as the literal string "<5"; the loader replaces them with 1, matching the
// original dashboard's convention.
//
// Vaccination counts come from the Sciensano cumulative CSV
// (COVID19BE_VACC_MUNI_CUM), one row per municipality, ISO week, dose and
// age group with a censored CUMUL column ("<10" -> 1). Only first-dose rows
// (DOSE in {B, C}) are kept and the 0-17 age group is excluded before the
// per-week sums are taken.
//
// Population figures come from the StatBel population spreadsheet keyed by
// CD_REFNIS, with the Dutch municipality name in TX_DESCR_NL. The policy
// stringency index is an Oxford-style 0-100 score read from the "raw_data"
// sheet of a daily spreadsheet keyed by the same code.
//
// Boundaries come from the StatBel statistical-sector GeoJSON archive. The
// 581 municipalities are the authoritative entity set: every one of them
// appears in the finished panel for every period, whether or not any source
// reported data for it.
//
// # NIS Codes
//
// The Belgian NIS code is a five-digit municipality identifier. Sources
// disagree on its representation (integer, zero-padded string, float-ish
// "21004.0" spreadsheet cells); [NormalizeNIS] coerces all of them to a
// fixed-width five-digit string exactly once, at load time. Downstream code
// never re-normalizes.
//
// # Periods
//
// A Period is a UTC bucket start: midnight for daily granularity, the ISO
// week's Monday for weekly. Weekly periods print as "2021-W07", daily as
// "2021-02-15". Periods built through [PeriodOf] are comparable with == and
// usable as map keys.
//
// # Fingerprints
//
// Cache artifacts are keyed by deterministic SHA-256 fingerprints of the
// request parameters (source name, location, time range, granularity), so
// repeated builds with identical parameters hit the same cache entry and a
// parameter change can never alias a stale artifact. See [Fingerprint].
package domain
