package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/lox/kasselweather/internal/export"
	"github.com/lox/kasselweather/internal/ingest"
	"github.com/lox/kasselweather/internal/models"
)

// LoadDotEnv loads variables from the given files (default .env) without
// overriding anything already set in the environment. A missing file is not
// an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Printf("config: no %s file, using environment only", p)
				continue
			}
			return err
		}
	}
	return nil
}

// Globals are flags shared by every command.
type Globals struct {
	DB        string  `name:"db" env:"KASSELWEATHER_DB" default:":memory:" help:"SQLite database path. The default keeps nothing between runs."`
	Latitude  float64 `env:"KASSELWEATHER_LAT" default:"51.3127" help:"Latitude of the analysis target."`
	Longitude float64 `env:"KASSELWEATHER_LON" default:"9.4797" help:"Longitude of the analysis target."`

	Meteostat MeteostatFlags `embed:"" prefix:"meteostat-"`
}

// Target returns the fixed analysis point.
func (g Globals) Target() models.Point {
	return models.Point{Latitude: g.Latitude, Longitude: g.Longitude}
}

type MeteostatFlags struct {
	APIKey  string        `name:"api-key" env:"METEOSTAT_API_KEY" help:"RapidAPI key for Meteostat."`
	BaseURL string        `name:"base-url" env:"METEOSTAT_BASE_URL" default:"${meteostat_base_url}" help:"Meteostat API base URL."`
	Host    string        `name:"host" env:"METEOSTAT_HOST" default:"${meteostat_host}" help:"RapidAPI host header."`
	Timeout time.Duration `name:"timeout" env:"METEOSTAT_TIMEOUT" default:"30s" help:"Per-request timeout."`
	Retries int           `name:"retries" env:"METEOSTAT_RETRIES" default:"0" help:"Retries for transient failures."`
}

func (m MeteostatFlags) Config() ingest.MeteostatConfig {
	return ingest.MeteostatConfig{
		APIKey:  m.APIKey,
		BaseURL: m.BaseURL,
		Host:    m.Host,
		Timeout: m.Timeout,
		Retries: m.Retries,
	}
}

// Vars supplies the ${...} defaults referenced in the flag tags.
func Vars() map[string]string {
	return map[string]string{
		"meteostat_base_url": ingest.DefaultBaseURL,
		"meteostat_host":     ingest.DefaultHost,
	}
}

// ExportFlags select where exported charts go. An FTP address takes
// precedence over the directory.
type ExportFlags struct {
	Dir         string        `name:"export-dir" env:"EXPORT_DIR" default:"exports" help:"Directory for exported charts."`
	FTPAddr     string        `name:"ftp-addr" env:"EXPORT_FTP_ADDR" help:"FTP host:port to upload exported charts to."`
	FTPUser     string        `name:"ftp-user" env:"EXPORT_FTP_USER" help:"FTP user."`
	FTPPassword string        `name:"ftp-password" env:"EXPORT_FTP_PASSWORD" help:"FTP password."`
	FTPDir      string        `name:"ftp-dir" env:"EXPORT_FTP_DIR" help:"Remote FTP directory."`
	FTPTimeout  time.Duration `name:"ftp-timeout" env:"EXPORT_FTP_TIMEOUT" default:"30s" help:"FTP dial timeout."`
}

// Sink builds the configured export sink.
func (e ExportFlags) Sink() (export.Sink, error) {
	if e.FTPAddr != "" {
		return export.NewFTPSink(export.FTPConfig{
			Addr:     e.FTPAddr,
			User:     e.FTPUser,
			Password: e.FTPPassword,
			Dir:      e.FTPDir,
			Timeout:  e.FTPTimeout,
		}), nil
	}
	return export.NewDirSink(e.Dir)
}

type NarrativeFlags struct {
	OpenAIKey   string `name:"openai-api-key" env:"OPENAI_API_KEY" help:"Enables the written summary of loaded statistics."`
	OpenAIModel string `name:"openai-model" env:"OPENAI_MODEL" help:"Chat model for the summary."`
}
