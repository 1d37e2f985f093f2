// Package training reduces a prepared table to per-year sufficient statistics
// and fits harmonic models from them.
//
// # Sufficient statistics
//
// For each calendar year Y the design matrix X_Y and targets y_Y are reduced to
// the normal-equations pair S_Y = X_Yᵀ X_Y and b_Y = X_Yᵀ y_Y. Because the
// pairs are additive,
//
//	Σ_Y S_Y = Xᵀ X   and   Σ_Y b_Y = Xᵀ y
//
// for the full table, and the statistics of "every year but Y" are obtained by
// subtraction from the totals. Leave-one-year-out validation relies on this
// identity; nothing is ever refitted from raw rows.
//
// # UTC calendar grid
//
// Models are fitted on continuous solar time, but each row also carries a
// no-leap UTC day index (1..365, Feb 29 mapped to -1) and a UTC hour (0..23)
// used to build the climatology baseline. Rows must therefore sit on whole
// UTC hours.
//
// # Fit results
//
// Fit and FitFromStats produce an immutable FitResult. Attaching a validation
// report yields a separate ValidatedFitResult; neither is mutated afterwards.
package training
