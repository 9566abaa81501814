package guard

import (
	"regexp"
	"sync"
)

// This file covers the pack families beyond posix/git: containers, secrets,
// cloud, storage, networking, messaging, package-managers, and
// inline-scripts, each lazily compiled and cached the same way PosixPack
// and GitPack are in packs.go.

var (
	containersOnce sync.Once
	containersPack Pack

	dockerPrivileged  = regexp.MustCompile(`\bdocker\s+run\b.*(--privileged|--cap-add[= ]+ALL)`)
	dockerSocketMount = regexp.MustCompile(`\bdocker\s+run\b.*-v\s*/var/run/docker\.sock`)
	k8sDeleteAllNS    = regexp.MustCompile(`\bkubectl\s+delete\s+(namespace|ns)\s+--all\b`)
)

// ContainersPack covers container-runtime commands that escape isolation or
// wipe a cluster namespace.
func ContainersPack() Pack {
	containersOnce.Do(func() {
		containersPack = Pack{
			Name:     "containers",
			Keywords: []string{"docker", "kubectl"},
			Patterns: []Pattern{
				{ID: "containers.docker_privileged", Description: "running a privileged container escapes host isolation", Regex: dockerPrivileged, QuickReject: "docker"},
				{ID: "containers.docker_socket_mount", Description: "mounting the docker socket grants host-level control", Regex: dockerSocketMount, QuickReject: "docker"},
				{ID: "containers.kubectl_delete_all_namespaces", Description: "deleting every namespace in the cluster", Regex: k8sDeleteAllNS, QuickReject: "kubectl"},
			},
		}
	})
	return containersPack
}

var (
	secretsOnce sync.Once
	secretsPack Pack

	awsCredsPrint  = regexp.MustCompile(`\b(cat|echo)\b.*\.aws/credentials\b`)
	envDumpPattern = regexp.MustCompile(`\benv\b\s*\|\s*(curl|nc|ncat|socat)\b`)
	sshKeyPrint    = regexp.MustCompile(`\b(cat|cp)\b.*id_(rsa|ed25519|ecdsa)\b`)
	// sshPubKeyRead excepts the public half, which is safe to read and
	// routinely cat'ed when wiring authorized_keys.
	sshPubKeyRead = regexp.MustCompile(`id_(rsa|ed25519|ecdsa)\.pub\b`)
)

// SecretsPack covers commands that read or exfiltrate local credential
// material.
func SecretsPack() Pack {
	secretsOnce.Do(func() {
		secretsPack = Pack{
			Name:     "secrets",
			Keywords: []string{"credentials", "env", "id_"},
			Patterns: []Pattern{
				{ID: "secrets.aws_credentials_read", Description: "reading AWS credentials file", Regex: awsCredsPrint, QuickReject: "credentials"},
				{ID: "secrets.env_exfiltration", Description: "piping the process environment to a network tool", Regex: envDumpPattern, QuickReject: "env"},
				{ID: "secrets.private_key_read", Description: "reading a private SSH key", Regex: sshKeyPrint, QuickReject: "id_", SafePatterns: []*regexp.Regexp{sshPubKeyRead}},
			},
		}
	})
	return secretsPack
}

var (
	cloudOnce sync.Once
	cloudPack Pack

	awsDeleteBucketForce = regexp.MustCompile(`\baws\s+s3\s+rb\b.*--force\b`)
	gcloudProjectDelete  = regexp.MustCompile(`\bgcloud\s+projects\s+delete\b`)
	azVMDeallocateAll    = regexp.MustCompile(`\baz\s+vm\s+deallocate\b.*--ids\b`)
)

// CloudPack covers cloud-provider CLI commands that destroy managed
// infrastructure.
func CloudPack() Pack {
	cloudOnce.Do(func() {
		cloudPack = Pack{
			Name:     "cloud",
			Keywords: []string{"aws", "gcloud", "az"},
			Patterns: []Pattern{
				{ID: "cloud.aws_s3_force_delete_bucket", Description: "force-deleting an S3 bucket and its contents", Regex: awsDeleteBucketForce, QuickReject: "s3"},
				{ID: "cloud.gcloud_project_delete", Description: "deleting an entire GCP project", Regex: gcloudProjectDelete, QuickReject: "gcloud"},
				{ID: "cloud.azure_bulk_vm_deallocate", Description: "bulk-deallocating Azure VMs by id list", Regex: azVMDeallocateAll, QuickReject: "az"},
			},
		}
	})
	return cloudPack
}

var (
	storageOnce sync.Once
	storagePack Pack

	truncateDevice = regexp.MustCompile(`\btruncate\s+.*-s\s*0\b.*(/dev/|/var/lib)`)
	lvremoveForce  = regexp.MustCompile(`\blvremove\s+(-f|--force)\b`)
	zpoolDestroy   = regexp.MustCompile(`\bzpool\s+destroy\b`)
)

// StoragePack covers volume/filesystem-management commands that destroy
// stored data outside a plain rm.
func StoragePack() Pack {
	storageOnce.Do(func() {
		storagePack = Pack{
			Name:     "storage",
			Keywords: []string{"truncate", "lvremove", "zpool"},
			Patterns: []Pattern{
				{ID: "storage.truncate_system_path", Description: "truncating a system or data path to zero length", Regex: truncateDevice, QuickReject: "truncate"},
				{ID: "storage.lvremove_force", Description: "force-removing an LVM logical volume", Regex: lvremoveForce, QuickReject: "lvremove"},
				{ID: "storage.zpool_destroy", Description: "destroying a ZFS pool", Regex: zpoolDestroy, QuickReject: "zpool"},
			},
		}
	})
	return storagePack
}

var (
	networkingOnce sync.Once
	networkingPack Pack

	iptablesFlush      = regexp.MustCompile(`\biptables\s+(-F|--flush)\b`)
	ufwDisable         = regexp.MustCompile(`\bufw\s+disable\b`)
	routeDeleteDefault = regexp.MustCompile(`\bip\s+route\s+del(ete)?\s+default\b`)
)

// NetworkingPack covers commands that disable host firewalling or routing,
// cutting off remote access or exposing the host.
func NetworkingPack() Pack {
	networkingOnce.Do(func() {
		networkingPack = Pack{
			Name:     "networking",
			Keywords: []string{"iptables", "ufw", "route"},
			Patterns: []Pattern{
				{ID: "networking.iptables_flush", Description: "flushing all firewall rules", Regex: iptablesFlush, QuickReject: "iptables"},
				{ID: "networking.ufw_disable", Description: "disabling the host firewall", Regex: ufwDisable, QuickReject: "ufw"},
				{ID: "networking.default_route_delete", Description: "removing the default network route", Regex: routeDeleteDefault, QuickReject: "route"},
			},
		}
	})
	return networkingPack
}

var (
	messagingOnce sync.Once
	messagingPack Pack

	slackWebhookPost = regexp.MustCompile(`\bcurl\b.*hooks\.slack\.com`)
	massDMBroadcast  = regexp.MustCompile(`\b(for\s+\w+\s+in\s+.*;\s*do\s+)?(send_message|sendmsg)\b.*--all\b`)
)

// MessagingPack covers commands that broadcast messages outward, flagged
// for review rather than outright block since legitimate tools use these
// same primitives.
func MessagingPack() Pack {
	messagingOnce.Do(func() {
		messagingPack = Pack{
			Name:     "messaging",
			Keywords: []string{"slack", "--all"},
			Patterns: []Pattern{
				{ID: "messaging.slack_webhook_post", Description: "posting directly to a Slack webhook, bypassing the messaging tool", Regex: slackWebhookPost, QuickReject: "slack", Severity: SeverityReview},
				{ID: "messaging.mass_broadcast", Description: "broadcasting a message to every recipient", Regex: massDMBroadcast, QuickReject: "--all", Severity: SeverityReview},
			},
		}
	})
	return messagingPack
}

var (
	packageManagersOnce sync.Once
	packageManagersPack Pack

	pipInstallRemote  = regexp.MustCompile(`\bpip\d?\s+install\b.*https?://`)
	npmPostinstallRun = regexp.MustCompile(`\bnpm\s+(install|i)\b.*--ignore-scripts=false`)
	aptUnauthenticated = regexp.MustCompile(`\bapt(-get)?\s+install\b.*--allow-unauthenticated\b`)
)

// PackageManagersPack covers installing packages from arbitrary URLs or
// re-enabling install-time script execution.
func PackageManagersPack() Pack {
	packageManagersOnce.Do(func() {
		packageManagersPack = Pack{
			Name:     "package-managers",
			Keywords: []string{"pip", "npm", "apt"},
			Patterns: []Pattern{
				{ID: "pkg.pip_install_remote_url", Description: "installing a Python package directly from a URL", Regex: pipInstallRemote, QuickReject: "pip"},
				{ID: "pkg.npm_install_scripts_forced", Description: "forcing npm to run install scripts", Regex: npmPostinstallRun, QuickReject: "npm"},
				{ID: "pkg.apt_allow_unauthenticated", Description: "installing packages with signature verification disabled", Regex: aptUnauthenticated, QuickReject: "--allow-unauthenticated"},
			},
		}
	})
	return packageManagersPack
}

var (
	inlineScriptsOnce sync.Once
	inlineScriptsPack Pack

	pythonDestructive   = regexp.MustCompile(`\bpython3?\s+-c\b.*(os\.remove|os\.rmdir|shutil\.rmtree|subprocess\.(run|call|Popen))`)
	nodeEvalDestructive = regexp.MustCompile(`\bnode\s+-e\b.*(fs\.rm|child_process)`)
	rubyEvalDestructive = regexp.MustCompile(`\bruby\s+-e\b.*(FileUtils\.rm_rf|` + "`" + `rm )`)
)

// InlineScriptsPack scans the inline-script bodies the segment walker
// extracts from `python -c`, `node -e`, and `ruby -e` invocations for the
// same destructive operations the other packs would catch in a plain
// shell command.
func InlineScriptsPack() Pack {
	inlineScriptsOnce.Do(func() {
		inlineScriptsPack = Pack{
			Name:     "inline-scripts",
			Keywords: []string{"python", "node", "ruby"},
			Patterns: []Pattern{
				{ID: "inline.python_destructive_call", Description: "inline Python script performs a destructive filesystem/process call", Regex: pythonDestructive, QuickReject: "python"},
				{ID: "inline.node_destructive_call", Description: "inline Node script performs a destructive filesystem/process call", Regex: nodeEvalDestructive, QuickReject: "node"},
				{ID: "inline.ruby_destructive_call", Description: "inline Ruby script performs a destructive filesystem/process call", Regex: rubyEvalDestructive, QuickReject: "ruby"},
			},
		}
	})
	return inlineScriptsPack
}
