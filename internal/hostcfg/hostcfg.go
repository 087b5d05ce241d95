// Package hostcfg resolves connection credentials for a host alias. Sources
// are merged field by field in priority order: explicit request parameters,
// OVRD_* environment overrides, the optional hosts file, then hosts stored
// in the database. Missing fields fall back to the alias itself as hostname,
// port 22 and the local username.
package hostcfg

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gluk-w/remsh/internal/crypto"
	"github.com/gluk-w/remsh/internal/database"
)

// Credentials carries everything needed to open and elevate a session.
// Secrets never serialize to JSON.
type Credentials struct {
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port"`
	User           string `yaml:"user" json:"user"`
	Password       string `yaml:"password" json:"-"`
	KeyPath        string `yaml:"key_path" json:"key_path,omitempty"`
	EnablePassword string `yaml:"enable_password" json:"-"`
	SudoPassword   string `yaml:"sudo_password" json:"-"`
}

// hostsFile is the on-disk shape of the optional hosts file.
type hostsFile struct {
	Hosts map[string]Credentials `yaml:"hosts"`
}

// Resolver merges credential sources for aliases.
type Resolver struct {
	// HostsFile is the path to the optional YAML hosts file. Empty skips
	// the file tier.
	HostsFile string

	lookupEnv func(string) string
}

// NewResolver creates a resolver reading overrides from the process
// environment.
func NewResolver(hostsFile string) *Resolver {
	return &Resolver{
		HostsFile: hostsFile,
		lookupEnv: os.Getenv,
	}
}

// Resolve returns the merged credentials for alias. Fields already set in
// explicit win over every other source.
func (r *Resolver) Resolve(alias string, explicit Credentials) (Credentials, error) {
	creds := explicit
	merge(&creds, r.fromEnv(alias))

	if r.HostsFile != "" {
		fileCreds, err := r.fromFile(alias)
		if err != nil {
			return Credentials{}, err
		}
		merge(&creds, fileCreds)
	}

	dbCreds, err := r.fromDB(alias)
	if err != nil {
		return Credentials{}, err
	}
	merge(&creds, dbCreds)

	if creds.Host == "" {
		creds.Host = alias
	}
	if creds.Port == 0 {
		creds.Port = 22
	}
	if creds.User == "" {
		creds.User = r.lookupEnv("USER")
	}
	if creds.User == "" {
		return Credentials{}, fmt.Errorf("no username resolved for host %q: set a user or the USER environment variable", alias)
	}
	creds.KeyPath = expandPath(creds.KeyPath)
	return creds, nil
}

// Paranoia reports whether alias is flagged for per-action approval via the
// {alias}_PARANOIA=1 environment variable.
func (r *Resolver) Paranoia(alias string) bool {
	return r.lookupEnv(alias+"_PARANOIA") == "1"
}

// fromEnv reads the OVRD_{alias}_* override variables.
func (r *Resolver) fromEnv(alias string) Credentials {
	get := func(suffix string) string {
		return r.lookupEnv("OVRD_" + alias + "_" + suffix)
	}
	creds := Credentials{
		Host:           get("HOST"),
		User:           get("USER"),
		Password:       get("PASS"),
		KeyPath:        get("KEY"),
		SudoPassword:   get("SUDO_PASS"),
		EnablePassword: get("ENABLE_PASS"),
	}
	if p := get("PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[hostcfg] ignoring invalid OVRD_%s_PORT=%q", alias, p)
		} else {
			creds.Port = n
		}
	}
	return creds
}

// fromFile reads the alias entry from the hosts file. A missing alias is not
// an error; a missing or malformed file is.
func (r *Resolver) fromFile(alias string) (Credentials, error) {
	data, err := os.ReadFile(r.HostsFile)
	if err != nil {
		return Credentials{}, fmt.Errorf("read hosts file: %w", err)
	}
	var f hostsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Credentials{}, fmt.Errorf("parse hosts file %s: %w", r.HostsFile, err)
	}
	return f.Hosts[alias], nil
}

// fromDB reads the alias row from the database, decrypting stored secrets.
// A missing row or uninitialized database is not an error.
func (r *Resolver) fromDB(alias string) (Credentials, error) {
	if database.DB == nil {
		return Credentials{}, nil
	}
	host, err := database.GetHostByAlias(alias)
	if err != nil {
		if database.IsNotFoundErr(err) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("look up host %q: %w", alias, err)
	}

	creds := Credentials{
		Host:    host.Hostname,
		Port:    host.Port,
		User:    host.Username,
		KeyPath: host.KeyPath,
	}
	if creds.Password, err = crypto.Decrypt(host.EncPassword); err != nil {
		return Credentials{}, fmt.Errorf("decrypt password for %q: %w", alias, err)
	}
	if creds.EnablePassword, err = crypto.Decrypt(host.EncEnable); err != nil {
		return Credentials{}, fmt.Errorf("decrypt enable password for %q: %w", alias, err)
	}
	if creds.SudoPassword, err = crypto.Decrypt(host.EncSudo); err != nil {
		return Credentials{}, fmt.Errorf("decrypt sudo password for %q: %w", alias, err)
	}
	return creds, nil
}

// merge fills every zero field of dst from src.
func merge(dst *Credentials, src Credentials) {
	if dst.Host == "" {
		dst.Host = src.Host
	}
	if dst.Port == 0 {
		dst.Port = src.Port
	}
	if dst.User == "" {
		dst.User = src.User
	}
	if dst.Password == "" {
		dst.Password = src.Password
	}
	if dst.KeyPath == "" {
		dst.KeyPath = src.KeyPath
	}
	if dst.EnablePassword == "" {
		dst.EnablePassword = src.EnablePassword
	}
	if dst.SudoPassword == "" {
		dst.SudoPassword = src.SudoPassword
	}
}

// expandPath expands a leading ~/ to the current user's home directory.
func expandPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
