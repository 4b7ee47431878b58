// Package compute derives the per-tank stress score from sensor readings.
//
// stress.go provides the pure Stress(ph, temp, capacity) kernel: a pairwise
// O(n²) sum of weighted pH/temperature deviations multiplied by the symmetric
// capacity ratio c[i]/c[j] + c[j]/c[i], normalised by n². Zero or negative
// capacities and non-finite values are rejected with sentinel errors rather
// than producing Inf/NaN scores.
//
// engine.go provides Engine, the grouped apply: it partitions a table by
// tank_id, drops rows with a null pH, temp or capacity from each group's
// kernel input, scores groups concurrently on an errgroup pool and stamps the
// group score onto every row as stress_score. A group left with no valid rows
// gets a null score.
//
// CapacitySource selects the capacity column explicitly: per-reading
// quantity_liters, or capacity_liters joined from tank info.
package compute
