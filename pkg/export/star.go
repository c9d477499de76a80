package export

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// StarSchema builds a BI star schema from the attribution records of a run:
// fact_waiting plus case, activity, resource and date dimensions.
type StarSchema struct {
	db          *sql.DB
	outputDir   string
	compression string
}

// StarSchemaResult contains the paths to generated files.
type StarSchemaResult struct {
	OutputDir     string `json:"output_dir"`
	FactWaiting   string `json:"fact_waiting"`
	DimCases      string `json:"dim_cases"`
	DimActivities string `json:"dim_activities"`
	DimResources  string `json:"dim_resources"`
	DimDates      string `json:"dim_dates"`
}

// Files returns all generated file paths.
func (r *StarSchemaResult) Files() []string {
	return []string{
		r.FactWaiting,
		r.DimCases,
		r.DimActivities,
		r.DimResources,
		r.DimDates,
	}
}

// NewStarSchema creates a star schema builder writing into outputDir.
func NewStarSchema(outputDir string, compression CompressionType) (*StarSchema, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	return &StarSchema{db: db, outputDir: outputDir, compression: duckdbCompression(compression)}, nil
}

// duckdbCompression maps a codec to a name DuckDB's Parquet writer accepts.
func duckdbCompression(c CompressionType) string {
	switch c {
	case CompressionNone:
		return "uncompressed"
	case CompressionLZ4:
		return "snappy"
	}
	return c.String()
}

// WriteStarSchema writes the records of rep as a star schema into dir.
func WriteStarSchema(rep *RunReport, dir string, compression CompressionType) (*StarSchemaResult, error) {
	staging := filepath.Join(dir, ".records.parquet")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := writeFile(staging, func(w io.Writer) error {
		return WriteParquet(w, rep, compression)
	}); err != nil {
		return nil, err
	}
	defer os.Remove(staging)

	s, err := NewStarSchema(dir, compression)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Build(staging)
}

// Build generates the star schema from an attribution records Parquet file.
func (s *StarSchema) Build(recordsPath string) (*StarSchemaResult, error) {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE OR REPLACE TABLE source AS
		SELECT * REPLACE (
			COALESCE(resource, '') AS resource,
			CAST(enabled AS TIMESTAMP) AS enabled,
			CAST(start AS TIMESTAMP) AS start,
			CAST("end" AS TIMESTAMP) AS "end"
		)
		FROM read_parquet('%s')
	`, quote(recordsPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE OR REPLACE TABLE dim_cases_lookup AS
		SELECT case_id, ROW_NUMBER() OVER (ORDER BY case_id) AS case_key
		FROM (SELECT DISTINCT case_id FROM source);

		CREATE OR REPLACE TABLE dim_activities_lookup AS
		SELECT activity, ROW_NUMBER() OVER (ORDER BY activity) AS activity_key
		FROM (SELECT DISTINCT activity FROM source);

		CREATE OR REPLACE TABLE dim_resources_lookup AS
		SELECT resource, ROW_NUMBER() OVER (ORDER BY resource) AS resource_key
		FROM (SELECT DISTINCT resource FROM source);

		CREATE OR REPLACE TABLE dim_dates_lookup AS
		SELECT date, ROW_NUMBER() OVER (ORDER BY date) AS date_key
		FROM (SELECT DISTINCT CAST(enabled AS DATE) AS date FROM source);
	`); err != nil {
		return nil, fmt.Errorf("failed to create lookups: %w", err)
	}

	r := &StarSchemaResult{
		OutputDir:     s.outputDir,
		FactWaiting:   filepath.Join(s.outputDir, "fact_waiting.parquet"),
		DimCases:      filepath.Join(s.outputDir, "dim_cases.parquet"),
		DimActivities: filepath.Join(s.outputDir, "dim_activities.parquet"),
		DimResources:  filepath.Join(s.outputDir, "dim_resources.parquet"),
		DimDates:      filepath.Join(s.outputDir, "dim_dates.parquet"),
	}

	steps := []struct {
		query string
		path  string
	}{
		{`
			SELECT
				l.case_key,
				s.case_id,
				MIN(s.enabled) AS first_enabled,
				MAX(s."end") AS last_end,
				COUNT(*) AS instances,
				SUM(s.wait_seconds) AS wait_seconds
			FROM source s
			JOIN dim_cases_lookup l USING (case_id)
			GROUP BY l.case_key, s.case_id
			ORDER BY l.case_key`, r.DimCases},
		{`
			SELECT
				l.activity_key,
				s.activity AS activity_name,
				COUNT(*) AS instances,
				SUM(s.wait_seconds) AS wait_seconds
			FROM source s
			JOIN dim_activities_lookup l USING (activity)
			GROUP BY l.activity_key, s.activity
			ORDER BY l.activity_key`, r.DimActivities},
		{`
			SELECT
				l.resource_key,
				s.resource AS resource_name,
				COUNT(*) AS instances,
				SUM(s.wait_seconds) AS wait_seconds
			FROM source s
			JOIN dim_resources_lookup l USING (resource)
			GROUP BY l.resource_key, s.resource
			ORDER BY l.resource_key`, r.DimResources},
		{`
			SELECT
				date_key,
				date AS full_date,
				EXTRACT(YEAR FROM date) AS year,
				EXTRACT(QUARTER FROM date) AS quarter,
				EXTRACT(MONTH FROM date) AS month,
				EXTRACT(DAY FROM date) AS day,
				EXTRACT(DAYOFWEEK FROM date) AS day_of_week,
				CASE WHEN EXTRACT(DAYOFWEEK FROM date) IN (0, 6) THEN 1 ELSE 0 END AS is_weekend
			FROM dim_dates_lookup
			ORDER BY date_key`, r.DimDates},
		{`
			SELECT
				ROW_NUMBER() OVER (ORDER BY s.case_id, s.enabled, s.instance_id) AS waiting_key,
				c.case_key,
				a.activity_key,
				rs.resource_key,
				d.date_key,
				s.instance_id,
				s.source_activity,
				s.enabled,
				s.start,
				s.wait_seconds,
				s.batching_seconds,
				s.prioritization_seconds,
				s.contention_seconds,
				s.unavailability_seconds,
				s.extraneous_seconds,
				s.defect
			FROM source s
			JOIN dim_cases_lookup c ON s.case_id = c.case_id
			JOIN dim_activities_lookup a ON s.activity = a.activity
			JOIN dim_resources_lookup rs ON s.resource = rs.resource
			JOIN dim_dates_lookup d ON CAST(s.enabled AS DATE) = d.date
			ORDER BY waiting_key`, r.FactWaiting},
	}
	for _, step := range steps {
		if err := s.copyTo(step.query, step.path); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", filepath.Base(step.path), err)
		}
	}
	return r, nil
}

func (s *StarSchema) copyTo(query, path string) error {
	_, err := s.db.Exec(fmt.Sprintf(`COPY (%s) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')`,
		query, quote(path), s.compression))
	return err
}

// Close releases resources.
func (s *StarSchema) Close() error {
	return s.db.Close()
}

func quote(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
