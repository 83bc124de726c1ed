package main

import "TalkingAvatar-server/cmd"

func main() {
	cmd.Execute()
}
