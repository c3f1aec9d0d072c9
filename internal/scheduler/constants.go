package scheduler

const (
	// TaskNameFlag is the argument a scheduled job passes to its script
	TaskNameFlag = "--task_name"

	schtasksCommand  = "schtasks"
	crontabCommand   = "crontab"
	launchctlCommand = "launchctl"

	// launchctl kickstart exit code when the service is already running
	kickstartAlreadyRunning = 113
	// launchctl start exit code when the service is not loaded
	startNotLoaded = 3

	launchdPathEnv = "/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin"
	launchdLang    = "en_US.UTF-8"
)
