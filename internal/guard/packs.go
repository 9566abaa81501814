package guard

import (
	"regexp"
	"sync"
)

// Patterns are anchored loosely and matched against the raw command string
// rather than a parsed AST: the guard runs ahead of (and faster than) any
// shell, so it trades precision for the ability to veto before exec.
//
// Each pack's regexes are compiled on first use rather than at package init,
// guarded by a sync.Once, so a deployment that only loads a handful of named
// packs never pays to compile the ones it skips.
var (
	posixOnce sync.Once
	posixPack Pack

	rmRecursiveForce = regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+){1,}.*(-[a-zA-Z]*[rf][a-zA-Z]*\s+)?(/|~|\$HOME|\*)`)
	diskOverwrite    = regexp.MustCompile(`\bdd\s+.*\bof=(/dev/sd|/dev/hd|/dev/nvme|/dev/disk)`)
	forkBomb         = regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;\s*:`)
	chmodWorldWide   = regexp.MustCompile(`\bchmod\s+(-R\s+)?(777|a\+rwx|o\+w)\b.*\s(/|~)`)
	mkfsPattern      = regexp.MustCompile(`\bmkfs(\.\w+)?\s+/dev/`)
	curlPipeShell    = regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(sh|bash|zsh)\b`)
	insecureTLSFlag  = regexp.MustCompile(`\s(-k|--insecure|--no-check-certificate)(\s|$)`)

	// rmTempTree permits recursive deletes scoped under the system temp
	// trees, which the rm_rf_root rule would otherwise catch on their
	// leading slash.
	rmTempTree = regexp.MustCompile(`\brm\s+(-[a-zA-Z]+\s+)+(/tmp|/var/tmp)/\S`)
)

// PosixPack covers destructive filesystem and shell operations common to any
// POSIX environment. The returned Pack is a cheap value copy of a
// lazily-built, process-wide singleton.
func PosixPack() Pack {
	posixOnce.Do(func() {
		posixPack = Pack{
			Name:     "posix",
			Keywords: []string{"rm", "dd", ":(", "chmod", "mkfs", "curl", "wget"},
			Patterns: []Pattern{
				{ID: "posix.rm_rf_root", Description: "recursive forced delete of a root-level or home path", Regex: rmRecursiveForce, QuickReject: "rm", SafePatterns: []*regexp.Regexp{rmTempTree}},
				{ID: "posix.dd_disk_overwrite", Description: "dd writing directly to a block device", Regex: diskOverwrite, QuickReject: "dd"},
				{ID: "posix.fork_bomb", Description: "shell fork bomb", Regex: forkBomb, QuickReject: ":("},
				{ID: "posix.chmod_world_writable", Description: "recursively making a root-level path world-writable", Regex: chmodWorldWide, QuickReject: "chmod"},
				{ID: "posix.mkfs_device", Description: "formatting a block device", Regex: mkfsPattern, QuickReject: "mkfs"},
				{ID: "posix.curl_pipe_shell", Description: "piping a remote download directly into a shell", Regex: curlPipeShell, QuickReject: "|"},
				{ID: "posix.insecure_tls_download", Description: "TLS verification disabled on a download", Regex: insecureTLSFlag, QuickReject: "-", Severity: SeveritySanitize, SanitizeWith: " ", Suggestion: "drop the insecure flag and trust the system CA store"},
			},
		}
	})
	return posixPack
}

var (
	gitOnce sync.Once
	gitPack Pack

	gitForcePushProtected = regexp.MustCompile(`\bgit\s+push\b(.*--force(-with-lease)?\b.*\b(main|master|release)\b|.*\b(main|master|release)\b.*--force(-with-lease)?\b)`)
	gitResetHard          = regexp.MustCompile(`\bgit\s+reset\s+--hard\b`)
	gitCleanForceDir      = regexp.MustCompile(`\bgit\s+clean\s+(-[a-zA-Z]*[fd][a-zA-Z]*\s*){2,}`)
	gitFilterBranch       = regexp.MustCompile(`\bgit\s+(filter-branch|filter-repo)\b`)
)

// GitPack covers git operations that rewrite or discard history.
func GitPack() Pack {
	gitOnce.Do(func() {
		gitPack = Pack{
			Name:     "git",
			Keywords: []string{"git"},
			Patterns: []Pattern{
				{ID: "git.force_push_protected_branch", Description: "force push to a protected branch", Regex: gitForcePushProtected, QuickReject: "push"},
				{ID: "git.reset_hard", Description: "git reset --hard discards uncommitted work", Regex: gitResetHard, QuickReject: "reset", Severity: SeverityReview, Suggestion: "git stash keeps the work recoverable"},
				{ID: "git.clean_force_dirs", Description: "git clean -fd removes untracked files and directories", Regex: gitCleanForceDir, QuickReject: "clean", Severity: SeverityWarn, Suggestion: "run git clean -n first to preview what would be removed"},
				{ID: "git.history_rewrite", Description: "rewriting repository history", Regex: gitFilterBranch, QuickReject: "filter"},
			},
		}
	})
	return gitPack
}

// PackByName returns the built-in pack with the given name, or ok=false.
func PackByName(name string) (Pack, bool) {
	switch name {
	case "posix":
		return PosixPack(), true
	case "git":
		return GitPack(), true
	case "containers":
		return ContainersPack(), true
	case "secrets":
		return SecretsPack(), true
	case "cloud":
		return CloudPack(), true
	case "storage":
		return StoragePack(), true
	case "networking":
		return NetworkingPack(), true
	case "messaging":
		return MessagingPack(), true
	case "package-managers":
		return PackageManagersPack(), true
	case "inline-scripts":
		return InlineScriptsPack(), true
	default:
		return Pack{}, false
	}
}

// AllPackNames lists every built-in pack name, in the order a full
// deployment would typically load them.
func AllPackNames() []string {
	return []string{
		"posix", "git", "containers", "secrets", "cloud",
		"storage", "networking", "messaging", "package-managers", "inline-scripts",
	}
}

// LoadPacks resolves a list of pack names into Pack values, skipping unknown
// names rather than erroring, since new packs may be named in config before
// this build ships them.
func LoadPacks(names []string) []Pack {
	packs := make([]Pack, 0, len(names))
	for _, name := range names {
		if pack, ok := PackByName(name); ok {
			packs = append(packs, pack)
		}
	}
	return packs
}
