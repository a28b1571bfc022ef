// Package installer resolves a requested package set to concrete install
// units and drives the host's package manager, isolating per-package
// failures so one bad package never aborts the batch.
package installer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/packforge/packforge/internal/naming"
	"github.com/packforge/packforge/internal/utils/logger"
)

// ErrUnsupportedOSFamily aborts the whole run: without a known family the
// install command syntax is unknown.
var ErrUnsupportedOSFamily = errors.New("unsupported OS family")

// ErrRepositoryProvision wraps failures writing or refreshing the package
// manager's repository source; it aborts the run before any install starts.
var ErrRepositoryProvision = errors.New("repository provisioning failed")

// OsReleaseFile is a variable so tests point it at fixture files.
var OsReleaseFile = "/etc/os-release"

// Family is one package-manager family's command vocabulary. One concrete
// implementation exists per supported family, selected once at startup.
type Family interface {
	Name() string
	PackageFormat() naming.Format
	InstallCmd(units []string) string
	RemoveCmd(pkgs []string) string
	RefreshCmd() string
	RepoFilePath() string
	RepoFileContents(repoURL, channel string) string
}

type aptFamily struct{}

func (aptFamily) Name() string                 { return "apt" }
func (aptFamily) PackageFormat() naming.Format { return naming.FormatDeb }
func (aptFamily) InstallCmd(units []string) string {
	return "apt-get install -y " + strings.Join(units, " ")
}
func (aptFamily) RemoveCmd(pkgs []string) string {
	return "apt-get remove -y " + strings.Join(pkgs, " ")
}
func (aptFamily) RefreshCmd() string  { return "apt-get update" }
func (aptFamily) RepoFilePath() string { return "/etc/apt/sources.list.d/packforge.list" }
func (aptFamily) RepoFileContents(repoURL, channel string) string {
	suite := channel
	if suite == "" {
		suite = "stable"
	}
	return fmt.Sprintf("deb [trusted=yes] %s %s main\n", repoURL, suite)
}

type dnfFamily struct{}

func (dnfFamily) Name() string                 { return "dnf" }
func (dnfFamily) PackageFormat() naming.Format { return naming.FormatRpm }
func (dnfFamily) InstallCmd(units []string) string {
	return "dnf install -y " + strings.Join(units, " ")
}
func (dnfFamily) RemoveCmd(pkgs []string) string {
	return "dnf remove -y " + strings.Join(pkgs, " ")
}
func (dnfFamily) RefreshCmd() string  { return "dnf makecache" }
func (dnfFamily) RepoFilePath() string { return "/etc/yum.repos.d/packforge.repo" }
func (dnfFamily) RepoFileContents(repoURL, channel string) string {
	return rpmRepoFile(repoURL, channel)
}

type zypperFamily struct{}

func (zypperFamily) Name() string                 { return "zypper" }
func (zypperFamily) PackageFormat() naming.Format { return naming.FormatRpm }
func (zypperFamily) InstallCmd(units []string) string {
	return "zypper --non-interactive install " + strings.Join(units, " ")
}
func (zypperFamily) RemoveCmd(pkgs []string) string {
	return "zypper --non-interactive remove " + strings.Join(pkgs, " ")
}
func (zypperFamily) RefreshCmd() string  { return "zypper refresh" }
func (zypperFamily) RepoFilePath() string { return "/etc/zypp/repos.d/packforge.repo" }
func (zypperFamily) RepoFileContents(repoURL, channel string) string {
	return rpmRepoFile(repoURL, channel)
}

type tdnfFamily struct{}

func (tdnfFamily) Name() string                 { return "tdnf" }
func (tdnfFamily) PackageFormat() naming.Format { return naming.FormatRpm }
func (tdnfFamily) InstallCmd(units []string) string {
	return "tdnf install -y " + strings.Join(units, " ")
}
func (tdnfFamily) RemoveCmd(pkgs []string) string {
	return "tdnf remove -y " + strings.Join(pkgs, " ")
}
func (tdnfFamily) RefreshCmd() string  { return "tdnf makecache" }
func (tdnfFamily) RepoFilePath() string { return "/etc/yum.repos.d/packforge.repo" }
func (tdnfFamily) RepoFileContents(repoURL, channel string) string {
	return rpmRepoFile(repoURL, channel)
}

func rpmRepoFile(repoURL, channel string) string {
	name := "packforge"
	if channel != "" {
		name = "packforge-" + channel
	}
	return fmt.Sprintf("[%s]\nname=%s\nbaseurl=%s\nenabled=1\ngpgcheck=0\n", name, name, repoURL)
}

// familiesByID maps os-release ID and ID_LIKE values to families.
var familiesByID = map[string]Family{
	"ubuntu":    aptFamily{},
	"debian":    aptFamily{},
	"fedora":    dnfFamily{},
	"rhel":      dnfFamily{},
	"centos":    dnfFamily{},
	"rocky":     dnfFamily{},
	"almalinux": dnfFamily{},
	"opensuse":  zypperFamily{},
	"sles":      zypperFamily{},
	"suse":      zypperFamily{},
	"azurelinux": tdnfFamily{},
	"mariner":    tdnfFamily{},
}

// DetectFamily classifies the host by its os-release ID, falling back to
// ID_LIKE entries when the ID itself is unknown.
func DetectFamily() (Family, error) {
	log := logger.Logger()

	f, err := os.Open(OsReleaseFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnsupportedOSFamily, OsReleaseFile, err)
	}
	defer f.Close()

	var id string
	var idLike []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ID=") {
			id = strings.Trim(strings.TrimPrefix(line, "ID="), "\"")
		} else if strings.HasPrefix(line, "ID_LIKE=") {
			raw := strings.Trim(strings.TrimPrefix(line, "ID_LIKE="), "\"")
			idLike = strings.Fields(raw)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnsupportedOSFamily, OsReleaseFile, err)
	}

	for _, candidate := range append([]string{id}, idLike...) {
		if family, ok := familiesByID[strings.ToLower(candidate)]; ok {
			log.Infof("detected OS family %s (ID=%s)", family.Name(), id)
			return family, nil
		}
	}
	return nil, fmt.Errorf("%w: ID=%q ID_LIKE=%q", ErrUnsupportedOSFamily, id, strings.Join(idLike, " "))
}
