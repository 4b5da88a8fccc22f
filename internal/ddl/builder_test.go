package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateS3Secret(t *testing.T) {
	falseVal := false
	tests := []struct {
		name    string
		secret  S3Secret
		want    string
		wantErr string
	}{
		{
			name:   "static_keys",
			secret: S3Secret{Name: "lake", KeyID: "AK", Secret: "s'k", Region: "eu-west-1"},
			want:   "CREATE OR REPLACE SECRET \"lake\" (\n\tTYPE S3,\n\tKEY_ID 'AK',\n\tSECRET 's''k',\n\tREGION 'eu-west-1'\n)",
		},
		{
			name:   "credential_chain",
			secret: S3Secret{Name: "lake", Endpoint: "localhost:9000", URLStyle: "path", UseSSL: &falseVal},
			want:   "CREATE OR REPLACE SECRET \"lake\" (\n\tTYPE S3,\n\tPROVIDER credential_chain,\n\tENDPOINT 'localhost:9000',\n\tURL_STYLE 'path',\n\tUSE_SSL false\n)",
		},
		{
			name:    "bad_name",
			secret:  S3Secret{Name: "my-secret"},
			wantErr: "invalid secret name",
		},
		{
			name:    "bad_url_style",
			secret:  S3Secret{Name: "lake", URLStyle: "weird"},
			wantErr: "invalid url style",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CreateS3Secret(tt.secret)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateAzureSecret(t *testing.T) {
	got, err := CreateAzureSecret("az", "", "", "DefaultEndpointsProtocol=https")
	require.NoError(t, err)
	assert.Contains(t, got, "CONNECTION_STRING 'DefaultEndpointsProtocol=https'")

	got, err = CreateAzureSecret("az", "acct", "", "")
	require.NoError(t, err)
	assert.Contains(t, got, "PROVIDER credential_chain")
	assert.Contains(t, got, "ACCOUNT_NAME 'acct'")

	got, err = CreateAzureSecret("az", "acct", "key", "")
	require.NoError(t, err)
	assert.Contains(t, got, "AccountName=acct;AccountKey=key")

	_, err = CreateAzureSecret("az", "", "", "")
	require.Error(t, err)
}

func TestCreateGCSSecret(t *testing.T) {
	got, err := CreateGCSSecret("gcs", "HMAC", "shh")
	require.NoError(t, err)
	assert.Equal(t, "CREATE OR REPLACE SECRET \"gcs\" (\n\tTYPE GCS,\n\tKEY_ID 'HMAC',\n\tSECRET 'shh'\n)", got)

	got, err = CreateGCSSecret("gcs", "", "")
	require.NoError(t, err)
	assert.Contains(t, got, "PROVIDER credential_chain")
}

func TestDropSecret(t *testing.T) {
	got, err := DropSecret("lake")
	require.NoError(t, err)
	assert.Equal(t, `DROP SECRET IF EXISTS "lake"`, got)

	_, err = DropSecret("")
	require.Error(t, err)
}

func TestEngineSettings(t *testing.T) {
	stmts, err := LoadExtension("httpfs")
	require.NoError(t, err)
	assert.Equal(t, []string{"INSTALL httpfs", "LOAD httpfs"}, stmts)

	_, err = LoadExtension("httpfs; DROP")
	require.Error(t, err)

	mem, err := SetMemoryLimit("4GB")
	require.NoError(t, err)
	assert.Equal(t, "SET memory_limit = '4GB'", mem)

	_, err = SetMemoryLimit("4GB'; DROP")
	require.Error(t, err)

	threads, err := SetThreads(4)
	require.NoError(t, err)
	assert.Equal(t, "SET threads = 4", threads)

	_, err = SetThreads(0)
	require.Error(t, err)
}

func TestAttachPostgres(t *testing.T) {
	got, err := AttachPostgres("pg_main", "host=db user=ro")
	require.NoError(t, err)
	assert.Equal(t, `ATTACH 'host=db user=ro' AS "pg_main" (TYPE postgres, READ_ONLY)`, got)

	_, err = AttachPostgres("pg_main", "")
	require.Error(t, err)

	detach, err := DetachCatalog("pg_main")
	require.NoError(t, err)
	assert.Equal(t, `DETACH DATABASE IF EXISTS "pg_main"`, detach)
}

func TestReadExpression(t *testing.T) {
	tests := []struct {
		name    string
		locator string
		format  string
		want    string
		wantErr string
	}{
		{"parquet_file", "data/sales.parquet", "parquet", "read_parquet('data/sales.parquet')", ""},
		{"default_format", "data/sales.parquet", "", "read_parquet('data/sales.parquet')", ""},
		{"partitioned", "s3://b/p/sales/**/*.parquet", "parquet", "read_parquet('s3://b/p/sales/**/*.parquet', hive_partitioning = true)", ""},
		{"csv", "data/o'brien.csv", "CSV", "read_csv_auto('data/o''brien.csv')", ""},
		{"json", "data/e.json", "json", "read_json_auto('data/e.json')", ""},
		{"empty", "", "parquet", "", "source path is required"},
		{"unsupported", "x.avro", "avro", "", "unsupported file format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadExpression(tt.locator, tt.format)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntrospectionSQL(t *testing.T) {
	rel := "read_parquet('x.parquet')"
	assert.Equal(t, "DESCRIBE SELECT * FROM read_parquet('x.parquet')", DescribeSQL(rel))
	assert.Equal(t,
		`SELECT DISTINCT CAST("Region" AS VARCHAR) AS v FROM read_parquet('x.parquet') WHERE "Region" IS NOT NULL LIMIT 3`,
		SampleValuesSQL(rel, "Region", 3))
	assert.Equal(t, "SELECT count(*) FROM read_parquet('x.parquet')", RowCountSQL(rel))
	assert.Equal(t,
		`SELECT CAST(min("ts") AS VARCHAR), CAST(max("ts") AS VARCHAR) FROM read_parquet('x.parquet')`,
		DateRangeSQL(rel, "ts"))
	assert.Equal(t, `"pg"."public"."orders"`, AttachedTable("pg", "public", "orders"))
}
