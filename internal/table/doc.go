// Package table holds the in-memory model of a sensor snapshot.
//
// A Table is a slice of Rows plus the ordered set of columns that are
// populated. The schema is fixed: the raw sensor fields (tank_id, time, pH,
// temp, quantity_liters), the fields joined from tank info (capacity_liters,
// fish_species) and the derived columns analyzers attach (avg_pH_per_tank,
// tank_num_readings, fish_species_num_readings, temperature_deviation,
// temperature_deviation_scaled, stress_score). Nullable values are pointers;
// nil means null.
//
// Analyzers treat a Table as immutable: they Clone it, fill the new column on
// the copy and register it with AddColumn.
//
// GroupBy partitions rows by tank_id and returns groups sorted by tank id with
// row indices in original order.
package table
