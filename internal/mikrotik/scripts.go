package mikrotik

import (
	"fmt"
	"strings"
)

// Script names as installed on the router scheduler.
const (
	ScriptNamePullUsers           = "radmesh-pull-users"
	ScriptNamePullActiveUsers     = "radmesh-pull-active-users"
	ScriptNamePullProfiles        = "radmesh-pull-profiles"
	ScriptNamePushUsage           = "radmesh-push-usage"
	ScriptNameCleanOrphanUsers    = "radmesh-clean-orphan-users"
	ScriptNameCleanOrphanProfiles = "radmesh-clean-orphan-profiles"
	ScriptNameOnLogin             = "radmesh-on-login"
)

// ScriptNames lists every script the channel can serve.
var ScriptNames = []string{
	ScriptNamePullUsers,
	ScriptNamePullActiveUsers,
	ScriptNamePullProfiles,
	ScriptNamePushUsage,
	ScriptNameCleanOrphanUsers,
	ScriptNameCleanOrphanProfiles,
	ScriptNameOnLogin,
}

// BuildScript renders the named RouterOS script for a router. baseURL is
// the server's MikroTik API root (".../api/mikrotik"); token is the
// router's app key. Returns false for unknown names.
func BuildScript(name, baseURL, token string) (string, bool) {
	switch name {
	case ScriptNamePullUsers:
		return PullUsersScript(baseURL, token), true
	case ScriptNamePullActiveUsers:
		return PullActiveUsersScript(baseURL, token), true
	case ScriptNamePullProfiles:
		return PullProfilesScript(baseURL, token), true
	case ScriptNamePushUsage:
		return PushUsageScript(baseURL, token), true
	case ScriptNameCleanOrphanUsers:
		return CleanOrphanUsersScript(baseURL, token), true
	case ScriptNameCleanOrphanProfiles:
		return CleanOrphanProfilesScript(baseURL, token), true
	case ScriptNameOnLogin:
		return OnLoginScript(), true
	}
	return "", false
}

func render(script, baseURL, token string) string {
	return strings.NewReplacer(
		"__BASE_URL__", strings.TrimRight(baseURL, "/"),
		"__TOKEN__", token,
	).Replace(script)
}

// PullUsersScript fetches unused vouchers and creates missing hotspot
// users. Strictly additive: existing users are never modified.
func PullUsersScript(baseURL, token string) string {
	return render(`# RadMesh - Pull Users
# Format: username;password;profile;comment

:local baseUrl "__BASE_URL__/pull-users"
:local token   "__TOKEN__"

:local url ($baseUrl . "?token=" . $token . "&format=flat")
:local dst "radmesh_users.txt"

:log info ("RadMesh: fetching users from " . $baseUrl)

/file remove [find name=$dst]

/tool fetch url=$url mode=https http-method=get dst-path=$dst check-certificate=no keep-result=yes
:delay 2s;

:if ([:len [/file find name=$dst]] = 0) do={
    :log error "RadMesh: fetch failed"
    :error "fetch failed"
}

:local content [/file get $dst contents]
:local contentLen [:len $content]

:if ($contentLen = 0) do={
    :log info "RadMesh: no users to pull"
    /file remove $dst
    :error "empty"
}

:local lineEnd 0
:local line ""
:local lastEnd 0
:local processed 0

:do {
    :set lineEnd [:find $content "\n" $lastEnd]
    :if ([:typeof $lineEnd] = "nil") do={ :set lineEnd $contentLen }
    :set line [:pick $content $lastEnd $lineEnd]
    :set lastEnd ($lineEnd + 1)

    :if ([:pick $line ([:len $line]-1)] = "\r") do={
        :set line [:pick $line 0 ([:len $line]-1)]
    }

    :if ([:len $line] > 0) do={
        :local s1 [:find $line ";"]
        :if ([:typeof $s1] != "nil") do={
            :local s2 [:find $line ";" ($s1 + 1)]
            :local s3 [:find $line ";" ($s2 + 1)]

            :if ([:typeof $s2] != "nil" && [:typeof $s3] != "nil") do={
                :local uName [:pick $line 0 $s1]
                :local uPass [:pick $line ($s1+1) $s2]
                :local uProf [:pick $line ($s2+1) $s3]
                :local uCom  [:pick $line ($s3+1) [:len $line]]

                :if ($uName != "") do={
                    :local existingId [/ip hotspot user find name=$uName]
                    :if ([:len $existingId] = 0) do={
                        /ip hotspot user add name=$uName password=$uPass profile=$uProf comment=$uCom
                        :set processed ($processed + 1)
                    }
                }
            }
        }
    }
} while ($lastEnd < $contentLen)

:log info ("RadMesh: done, users added: " . $processed)
/file remove $dst
`, baseURL, token)
}

// PullActiveUsersScript fetches in-use vouchers and creates or updates
// the matching hotspot users. The center is authoritative: an existing
// user's profile and comment are overwritten with the pulled values.
func PullActiveUsersScript(baseURL, token string) string {
	return render(`# RadMesh - Pull Active Users
# Format: username;password;profile;comment

:local baseUrl "__BASE_URL__/pull-active-users"
:local token   "__TOKEN__"

:local url ($baseUrl . "?token=" . $token . "&format=flat")
:local dst "radmesh_active_users.txt"

/file remove [find name=$dst]

/tool fetch url=$url mode=https http-method=get dst-path=$dst check-certificate=no keep-result=yes
:delay 2s;

:if ([:len [/file find name=$dst]] = 0) do={
    :log error "RadMesh: fetch failed"
    :error "fetch failed"
}

:local content [/file get $dst contents]
:local contentLen [:len $content]
:local lineEnd 0
:local line ""
:local lastEnd 0
:local created 0
:local updated 0

:do {
    :set lineEnd [:find $content "\n" $lastEnd]
    :if ([:typeof $lineEnd] = "nil") do={ :set lineEnd $contentLen }
    :set line [:pick $content $lastEnd $lineEnd]
    :set lastEnd ($lineEnd + 1)

    :if ([:pick $line ([:len $line]-1)] = "\r") do={
        :set line [:pick $line 0 ([:len $line]-1)]
    }

    :if ([:len $line] > 0) do={
        :local s1 [:find $line ";"]
        :if ([:typeof $s1] != "nil") do={
            :local s2 [:find $line ";" ($s1 + 1)]
            :local s3 [:find $line ";" ($s2 + 1)]

            :if ([:typeof $s2] != "nil" && [:typeof $s3] != "nil") do={
                :local uName [:pick $line 0 $s1]
                :local uPass [:pick $line ($s1+1) $s2]
                :local uProf [:pick $line ($s2+1) $s3]
                :local uCom  [:pick $line ($s3+1) [:len $line]]

                :if ($uName != "") do={
                    :local existingId [/ip hotspot user find name=$uName]
                    :if ([:len $existingId] = 0) do={
                        /ip hotspot user add name=$uName password=$uPass profile=$uProf comment=$uCom
                        :set created ($created + 1)
                    } else={
                        /ip hotspot user set $existingId profile=$uProf comment=$uCom
                        :set updated ($updated + 1)
                    }
                }
            }
        }
    }
} while ($lastEnd < $contentLen)

:log info ("RadMesh: active users created=" . $created . " updated=" . $updated)
/file remove $dst
`, baseURL, token)
}

// PullProfilesScript fetches service profiles and upserts hotspot user
// profiles, attaching the shared on-login hook to each.
func PullProfilesScript(baseURL, token string) string {
	return render(`# RadMesh - Pull Profiles
# Format: name;shared_users;rate_limit

:local baseUrl "__BASE_URL__/pull-profiles"
:local token   "__TOKEN__"

:local url ($baseUrl . "?token=" . $token . "&format=flat")
:local dst "radmesh_profiles.txt"

/file remove [find name=$dst]

/tool fetch url=$url mode=https http-method=get dst-path=$dst check-certificate=no keep-result=yes
:delay 2s;

:if ([:len [/file find name=$dst]] = 0) do={
    :log error "RadMesh: fetch failed"
    :error "fetch failed"
}

:local onLogin ("/system script run `+ScriptNameOnLogin+`")

:local content [/file get $dst contents]
:local contentLen [:len $content]
:local lineEnd 0
:local line ""
:local lastEnd 0
:local processed 0

:do {
    :set lineEnd [:find $content "\n" $lastEnd]
    :if ([:typeof $lineEnd] = "nil") do={ :set lineEnd $contentLen }
    :set line [:pick $content $lastEnd $lineEnd]
    :set lastEnd ($lineEnd + 1)

    :if ([:pick $line ([:len $line]-1)] = "\r") do={
        :set line [:pick $line 0 ([:len $line]-1)]
    }

    :if ([:len $line] > 0) do={
        :local s1 [:find $line ";"]
        :if ([:typeof $s1] != "nil") do={
            :local s2 [:find $line ";" ($s1 + 1)]

            :if ([:typeof $s2] != "nil") do={
                :local pName   [:pick $line 0 $s1]
                :local pShared [:pick $line ($s1+1) $s2]
                :local pRate   [:pick $line ($s2+1) [:len $line]]

                :if ($pName != "") do={
                    :local existingId [/ip hotspot user profile find name=$pName]
                    :if ([:len $existingId] = 0) do={
                        /ip hotspot user profile add name=$pName shared-users=$pShared rate-limit=$pRate on-login=$onLogin
                    } else={
                        /ip hotspot user profile set $existingId shared-users=$pShared rate-limit=$pRate on-login=$onLogin
                    }
                    :set processed ($processed + 1)
                }
            }
        }
    }
} while ($lastEnd < $contentLen)

:log info ("RadMesh: profiles synced: " . $processed)
/file remove $dst
`, baseURL, token)
}

// PushUsageScript serializes hotspot users that carry an activation
// marker and posts them as usage lines. Only marked users go up: the
// server ignores records without a marker anyway.
func PushUsageScript(baseURL, token string) string {
	return render(`# RadMesh - Push Usage
# Line format: username;mac;bytes_in;bytes_out;uptime;comment

:local baseUrl "__BASE_URL__/push-usage"
:local token   "__TOKEN__"

:local url ($baseUrl . "?token=" . $token)
:local payload ""
:local count 0

:foreach u in=[/ip hotspot user find] do={
    :local comment [/ip hotspot user get $u comment]

    :if ([:find $comment "ACT="] != nil || [:find $comment "Act:"] != nil) do={
        :local uName  [/ip hotspot user get $u name]
        :local uMac   [/ip hotspot user get $u mac-address]
        :local uIn    [/ip hotspot user get $u bytes-in]
        :local uOut   [/ip hotspot user get $u bytes-out]
        :local uTime  [/ip hotspot user get $u uptime]

        :local line ($uName . ";" . $uMac . ";" . $uIn . ";" . $uOut . ";" . $uTime . ";" . $comment)
        :set payload ($payload . $line . "\n")
        :set count ($count + 1)
    }
}

:if ($count = 0) do={
    :log info "RadMesh: no activated users to push"
    :error "nothing to push"
}

:do {
    /tool fetch url=$url http-method=post http-data=$payload mode=https check-certificate=no keep-result=no
} on-error={
    :log error "RadMesh: usage push failed"
    :error "push failed"
}

:log info ("RadMesh: pushed usage for " . $count . " users")
`, baseURL, token)
}

// CleanOrphanUsersScript submits the local user list and deletes exactly
// the subset the server reports as unknown.
func CleanOrphanUsersScript(baseURL, token string) string {
	return render(orphanScript, baseURL, token)
}

// CleanOrphanProfilesScript submits the local profile list and deletes
// exactly the subset the server reports as unknown.
func CleanOrphanProfilesScript(baseURL, token string) string {
	script := strings.NewReplacer(
		"orphan-users", "orphan-profiles",
		`find where comment~"^RadMesh"`, `find where name!="default" && name!="default-trial"`,
		"/ip hotspot user", "/ip hotspot user profile",
		"radmesh_delete_users.txt", "radmesh_delete_profiles.txt",
	).Replace(orphanScript)
	return render(script, baseURL, token)
}

const orphanScript = `# RadMesh - Orphan Cleanup
# Sends the local name list to the server, which returns the subset to
# delete. Never deletes anything the server did not name.

:local baseUrl "__BASE_URL__/orphan-users"
:local token   "__TOKEN__"
:local dst     "radmesh_delete_users.txt"

:local nameList ""
:local count 0

:foreach u in=[/ip hotspot user find where comment~"^RadMesh"] do={
    :local uname [/ip hotspot user get $u name]
    :if ($count = 0) do={
        :set nameList $uname
    } else={
        :set nameList ($nameList . "," . $uname)
    }
    :set count ($count + 1)
}

:if ($count = 0) do={
    :log info "RadMesh: nothing local to check"
    :error "stop"
}

:local url ($baseUrl . "?token=" . $token)

/file remove [find name=$dst]

:do {
    /tool fetch url=$url http-method=post http-data=$nameList dst-path=$dst mode=https check-certificate=no keep-result=yes
} on-error={
    :log error "RadMesh: orphan check failed"
    :error "stop"
}

:delay 2s;

:local content ""
:if ([:len [/file find name=$dst]] > 0) do={
    :set content [/file get $dst contents]
}

:if ([:len $content] = 0) do={
    :log info "RadMesh: no orphans"
    /file remove $dst
    :error "stop"
}

:local lastEnd 0
:local fileLen [:len $content]
:local deleted 0

:while ($lastEnd < $fileLen) do={
    :local lineEnd [:find $content "\n" $lastEnd]
    :if ([:typeof $lineEnd] = "nil") do={ :set lineEnd $fileLen }

    :local uname [:pick $content $lastEnd $lineEnd]
    :set lastEnd ($lineEnd + 1)

    :if ([:len $uname] > 0 && [:pick $uname ([:len $uname]-1)] = "\r") do={
        :set uname [:pick $uname 0 ([:len $uname]-1)]
    }

    :if ([:len $uname] > 0) do={
        :local uid [/ip hotspot user find name=$uname]
        :if ([:len $uid] > 0) do={
            /ip hotspot user remove $uid
            :set deleted ($deleted + 1)
        }
    }
}

/file remove $dst
:log info ("RadMesh: orphans deleted: " . $deleted)
`

// OnLoginScript is the hook attached to every synced profile. It stamps
// the activation time into the user comment exactly once and adds a MAC
// ip-binding when the profile carries the MB=1 flag.
func OnLoginScript() string {
	return `# RadMesh - On-Login Hook

:local u $user
:local m $mac

:if ([:len $u] = 0) do={
    :log warning "RadMesh: on-login called without user name"
    :return
}

:local uid [/ip hotspot user find where name=$u]

:if ([:len $uid] = 0) do={
    :log warning ("RadMesh: on-login user not found: " . $u)
    :return
}

:local oldComment [/ip hotspot user get $uid comment]
:local actPos [:find $oldComment "ACT="]

:if ($actPos = nil) do={
    :local date [/system clock get date]
    :local time [/system clock get time]
    :local ts ($date . " " . $time)

    :local newComment ("ACT=" . $ts)
    :if ([:len $oldComment] > 0) do={
        :set newComment ($newComment . " | " . $oldComment)
    }

    /ip hotspot user set $uid comment=$newComment
    :log info ("RadMesh: activation set for user " . $u . " at " . $ts)
}

:local profileName [/ip hotspot user get $uid profile]
:local pid [/ip hotspot user profile find where name=$profileName]
:local pComment ""

:if ([:len $pid] > 0) do={
    :set pComment [/ip hotspot user profile get $pid comment]
}

:if ([:find $pComment "MB=1"] = nil) do={
    :return
}

:if ([:len $m] = 0) do={
    :log warning ("RadMesh: no MAC for user " . $u)
    :return
}

:local bind [/ip hotspot ip-binding find where mac-address=$m]

:if ([:len $bind] = 0) do={
    /ip hotspot ip-binding add mac-address=$m type=bypassed comment=$u
    :log info ("RadMesh: mac-binding added for user " . $u . " mac=" . $m)
}
`
}

// InstallerScript renders a bootstrap that installs every channel script
// on the router scheduler.
func InstallerScript(baseURL, token string, pullInterval, pushInterval string) string {
	var b strings.Builder
	b.WriteString("# RadMesh - Script Installer\n\n")
	for _, name := range ScriptNames {
		fmt.Fprintf(&b, "/system script remove [find name=%q]\n", name)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "/system scheduler remove [find name~\"^radmesh-\"]\n\n")
	for _, name := range ScriptNames {
		script, _ := BuildScript(name, baseURL, token)
		fmt.Fprintf(&b, "/system script add name=%q source=%q\n", name, script)
	}
	fmt.Fprintf(&b, "\n/system scheduler add name=\"radmesh-pull\" interval=%s on-event=\"/system script run %s; /system script run %s; /system script run %s\"\n",
		pullInterval, ScriptNamePullProfiles, ScriptNamePullUsers, ScriptNamePullActiveUsers)
	fmt.Fprintf(&b, "/system scheduler add name=\"radmesh-push\" interval=%s on-event=\"/system script run %s\"\n",
		pushInterval, ScriptNamePushUsage)
	return b.String()
}
