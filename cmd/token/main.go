// token 为 HTTP API 和活动 feed 签发 JWT，密钥与服务端使用同一个环境变量。
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"voicemaster/internal/bootstrap"
	"voicemaster/internal/middleware"
)

func main() {
	userID := flag.String("user", "", "Discord user ID of the actor")
	guildID := flag.String("guild", "", "Discord guild ID the token is scoped to")
	admin := flag.Bool("admin", false, "grant access to /api/admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" || *guildID == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	secret := os.Getenv(bootstrap.EnvPrefix + "_JWT_SECRET")
	if secret == "" {
		logrus.Fatalf("%s_JWT_SECRET must be set", bootstrap.EnvPrefix)
	}

	token, err := middleware.IssueToken(secret, *userID, *guildID, *admin, *ttl)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to sign token")
	}
	fmt.Println(token)
}
