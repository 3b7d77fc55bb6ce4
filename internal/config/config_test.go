package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("Given a minimal config file", t, func() {
		path := writeConfig(t, `
store:
  encryption_key: c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0ISE=
artifacts:
  local_path: /var/lib/bastion/artifacts
`)

		Convey("Loading fills in the defaults", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.App.Name, ShouldEqual, "bastion")
			So(cfg.App.LogLevel, ShouldEqual, "info")
			So(cfg.Scheduler.TickInterval, ShouldEqual, 30*time.Second)
			So(cfg.Scheduler.MaxConcurrent, ShouldEqual, 4)
			So(cfg.Scheduler.ExecutionTimeout, ShouldEqual, 30*time.Minute)
			So(cfg.Retention.Schedule, ShouldEqual, "0 0 3 * * *")
		})
	})

	Convey("Given a full config file", t, func() {
		path := writeConfig(t, `
app:
  name: bastion-prod
  log_level: debug
  log_file: /var/log/bastion.log
store:
  path: /var/lib/bastion/state.db
  encryption_key: c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0ISE=
scheduler:
  tick_interval: 10s
  max_concurrent: 2
artifacts:
  local_path: /srv/backups
  mirrors:
    - type: s3
      enabled: true
      region: eu-central-1
      bucket: bastion-backups
      prefix: prod/
    - type: gdrive
      enabled: false
      credentials_file: /etc/bastion/gdrive.json
notifier:
  telegram:
    enabled: true
    bot_token: "123:abc"
    chat_id: "-100200300"
`)

		Convey("All sections unmarshal", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.App.Name, ShouldEqual, "bastion-prod")
			So(cfg.Scheduler.TickInterval, ShouldEqual, 10*time.Second)
			So(cfg.Scheduler.MaxConcurrent, ShouldEqual, 2)
			So(len(cfg.Artifacts.Mirrors), ShouldEqual, 2)
			So(cfg.Notifier.Telegram.ChatID, ShouldEqual, "-100200300")
		})

		Convey("GetEnabledMirrors skips disabled entries", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			mirrors := cfg.GetEnabledMirrors()
			So(len(mirrors), ShouldEqual, 1)
			So(mirrors[0].Type, ShouldEqual, "s3")
			So(mirrors[0].Bucket, ShouldEqual, "bastion-backups")
		})
	})

	Convey("Given invalid configuration", t, func() {
		Convey("A missing encryption key is rejected", func() {
			path := writeConfig(t, `
artifacts:
  local_path: /srv/backups
`)
			_, err := Load(path)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "encryption_key")
		})

		Convey("A missing artifacts path is rejected", func() {
			path := writeConfig(t, `
store:
  encryption_key: c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0ISE=
`)
			_, err := Load(path)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "local_path")
		})

		Convey("An enabled s3 mirror without a bucket is rejected", func() {
			path := writeConfig(t, `
store:
  encryption_key: c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0ISE=
artifacts:
  local_path: /srv/backups
  mirrors:
    - type: s3
      enabled: true
      region: eu-central-1
`)
			_, err := Load(path)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "bucket")
		})

		Convey("An unknown mirror type is rejected", func() {
			path := writeConfig(t, `
store:
  encryption_key: c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0ISE=
artifacts:
  local_path: /srv/backups
  mirrors:
    - type: ftp
`)
			_, err := Load(path)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "unknown type")
		})

		Convey("An enabled telegram notifier without a token is rejected", func() {
			path := writeConfig(t, `
store:
  encryption_key: c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0ISE=
artifacts:
  local_path: /srv/backups
notifier:
  telegram:
    enabled: true
`)
			_, err := Load(path)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "telegram")
		})

		Convey("A missing file fails to load", func() {
			_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
			So(err, ShouldNotBeNil)
		})
	})
}
