// Package ddl builds the DuckDB statements used to prepare the engine
// (extensions, secrets, settings, attachments) and to introspect catalog
// sources (read expressions, DESCRIBE, samples, statistics).
package ddl

import (
	"fmt"
	"strings"
)

// S3Secret holds the fields of a DuckDB S3 secret. Empty optional fields are
// omitted from the statement.
type S3Secret struct {
	Name         string
	KeyID        string
	Secret       string
	SessionToken string
	Region       string
	Endpoint     string
	URLStyle     string // "path" or "vhost"
	UseSSL       *bool
	Scope        string
}

// CreateS3Secret returns a DuckDB DDL statement to create an S3 secret.
// Without a key the secret uses the credential_chain provider.
func CreateS3Secret(s S3Secret) (string, error) {
	if err := ValidateIdentifier(s.Name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	opts := []string{"TYPE S3"}
	if s.KeyID == "" {
		opts = append(opts, "PROVIDER credential_chain")
	} else {
		opts = append(opts, "KEY_ID "+QuoteLiteral(s.KeyID), "SECRET "+QuoteLiteral(s.Secret))
		if s.SessionToken != "" {
			opts = append(opts, "SESSION_TOKEN "+QuoteLiteral(s.SessionToken))
		}
	}
	if s.Region != "" {
		opts = append(opts, "REGION "+QuoteLiteral(s.Region))
	}
	if s.Endpoint != "" {
		opts = append(opts, "ENDPOINT "+QuoteLiteral(s.Endpoint))
	}
	if s.URLStyle != "" {
		if s.URLStyle != "path" && s.URLStyle != "vhost" {
			return "", fmt.Errorf("invalid url style %q: must be \"path\" or \"vhost\"", s.URLStyle)
		}
		opts = append(opts, "URL_STYLE "+QuoteLiteral(s.URLStyle))
	}
	if s.UseSSL != nil {
		opts = append(opts, fmt.Sprintf("USE_SSL %t", *s.UseSSL))
	}
	if s.Scope != "" {
		opts = append(opts, "SCOPE "+QuoteLiteral(s.Scope))
	}
	return secretStatement(s.Name, opts), nil
}

// CreateAzureSecret returns a DuckDB DDL statement to create an Azure secret.
func CreateAzureSecret(name, accountName, accountKey, connectionString string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	if connectionString != "" {
		return secretStatement(name, []string{"TYPE AZURE", "CONNECTION_STRING " + QuoteLiteral(connectionString)}), nil
	}
	if accountName == "" {
		return "", fmt.Errorf("azure account name or connection string is required")
	}
	if accountKey == "" {
		return secretStatement(name, []string{
			"TYPE AZURE",
			"PROVIDER credential_chain",
			"ACCOUNT_NAME " + QuoteLiteral(accountName),
		}), nil
	}
	return secretStatement(name, []string{
		"TYPE AZURE",
		"CONNECTION_STRING " + QuoteLiteral(fmt.Sprintf(
			"DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			accountName, accountKey)),
	}), nil
}

// CreateGCSSecret returns a DuckDB DDL statement to create a GCS secret from
// HMAC keys, or from the credential chain when no key is given.
func CreateGCSSecret(name, keyID, secret string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	if keyID == "" {
		return secretStatement(name, []string{"TYPE GCS", "PROVIDER credential_chain"}), nil
	}
	return secretStatement(name, []string{
		"TYPE GCS",
		"KEY_ID " + QuoteLiteral(keyID),
		"SECRET " + QuoteLiteral(secret),
	}), nil
}

func secretStatement(name string, opts []string) string {
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (\n\t%s\n)", QuoteIdentifier(name), strings.Join(opts, ",\n\t"))
}

// DropSecret returns a DuckDB DDL statement: DROP SECRET IF EXISTS "<name>".
func DropSecret(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	return fmt.Sprintf("DROP SECRET IF EXISTS %s", QuoteIdentifier(name)), nil
}

// LoadExtension returns INSTALL and LOAD statements for a DuckDB extension.
func LoadExtension(name string) ([]string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("invalid extension name: %w", err)
	}
	return []string{"INSTALL " + name, "LOAD " + name}, nil
}

// SetMemoryLimit returns SET memory_limit = '<limit>'.
func SetMemoryLimit(limit string) (string, error) {
	if limit == "" || strings.ContainsAny(limit, "';\\") {
		return "", fmt.Errorf("invalid memory limit %q", limit)
	}
	return "SET memory_limit = " + QuoteLiteral(limit), nil
}

// SetThreads returns SET threads = <n>.
func SetThreads(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("threads must be positive, got %d", n)
	}
	return fmt.Sprintf("SET threads = %d", n), nil
}

// AttachPostgres returns a read-only ATTACH of a PostgreSQL database through
// the DuckDB postgres extension.
func AttachPostgres(alias, dsn string) (string, error) {
	if err := ValidateIdentifier(alias); err != nil {
		return "", fmt.Errorf("invalid attach alias: %w", err)
	}
	if dsn == "" {
		return "", fmt.Errorf("postgres DSN is required")
	}
	return fmt.Sprintf("ATTACH %s AS %s (TYPE postgres, READ_ONLY)", QuoteLiteral(dsn), QuoteIdentifier(alias)), nil
}

// DetachCatalog returns a DuckDB DDL statement to detach a catalog.
func DetachCatalog(alias string) (string, error) {
	if err := ValidateIdentifier(alias); err != nil {
		return "", fmt.Errorf("invalid attach alias: %w", err)
	}
	return fmt.Sprintf("DETACH DATABASE IF EXISTS %s", QuoteIdentifier(alias)), nil
}

// ReadExpression returns the table function that reads a file or glob.
// Hive partitioning is enabled for recursive globs so partition keys show
// up as columns.
func ReadExpression(locator, fileFormat string) (string, error) {
	if locator == "" {
		return "", fmt.Errorf("source path is required")
	}
	hive := strings.Contains(locator, "**")
	switch strings.ToLower(fileFormat) {
	case "parquet", "":
		if hive {
			return fmt.Sprintf("read_parquet(%s, hive_partitioning = true)", QuoteLiteral(locator)), nil
		}
		return fmt.Sprintf("read_parquet(%s)", QuoteLiteral(locator)), nil
	case "csv":
		if hive {
			return fmt.Sprintf("read_csv_auto(%s, hive_partitioning = true)", QuoteLiteral(locator)), nil
		}
		return fmt.Sprintf("read_csv_auto(%s)", QuoteLiteral(locator)), nil
	case "json":
		return fmt.Sprintf("read_json_auto(%s)", QuoteLiteral(locator)), nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", fileFormat)
	}
}

// AttachedTable returns a fully qualified reference to a table in an
// attached database.
func AttachedTable(alias, schema, table string) string {
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}

// DescribeSQL generates a DESCRIBE statement to discover column metadata
// of any relation expression.
func DescribeSQL(relation string) string {
	return fmt.Sprintf("DESCRIBE SELECT * FROM %s", relation)
}

// SampleValuesSQL selects up to n distinct non-null values of column,
// rendered as text.
func SampleValuesSQL(relation, column string, n int) string {
	col := QuoteIdentifier(column)
	return fmt.Sprintf("SELECT DISTINCT CAST(%s AS VARCHAR) AS v FROM %s WHERE %s IS NOT NULL LIMIT %d",
		col, relation, col, n)
}

// RowCountSQL counts the rows of a relation.
func RowCountSQL(relation string) string {
	return fmt.Sprintf("SELECT count(*) FROM %s", relation)
}

// DateRangeSQL returns min and max of a temporal column rendered as text.
func DateRangeSQL(relation, column string) string {
	col := QuoteIdentifier(column)
	return fmt.Sprintf("SELECT CAST(min(%s) AS VARCHAR), CAST(max(%s) AS VARCHAR) FROM %s", col, col, relation)
}
