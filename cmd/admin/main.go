package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"mockview/internal/auth"
	"mockview/internal/config"
	"mockview/internal/database"
)

func main() {
	var (
		username   = flag.String("username", "", "新建账号的用户名（与 --user-id 二选一）")
		userID     = flag.Uint("user-id", 0, "为已有账号签发令牌（与 --username 二选一）")
		privateKey = flag.String("jwt-private-key", "", "JWT 私钥路径（可选，默认读 JWT_PRIVATE_KEY_PATH）")
		publicKey  = flag.String("jwt-public-key", "", "JWT 公钥路径（可选，默认读 JWT_PUBLIC_KEY_PATH）")
		accessTTL  = flag.Duration("access-ttl", 24*time.Hour, "访问令牌有效期")
		refreshTTL = flag.Duration("refresh-ttl", 7*24*time.Hour, "刷新令牌有效期")
		dbHost     = flag.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort     = flag.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName     = flag.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser     = flag.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass     = flag.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode    = flag.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
	)
	flag.Parse()

	u := strings.TrimSpace(*username)
	if (u == "") == (*userID == 0) {
		log.Fatal("exactly one of --username or --user-id is required")
	}

	authService, err := auth.LoadAuthService(
		firstNonEmpty(*privateKey, os.Getenv("JWT_PRIVATE_KEY_PATH"), "keys/jwt_private.pem"),
		firstNonEmpty(*publicKey, os.Getenv("JWT_PUBLIC_KEY_PATH"), "keys/jwt_public.pem"),
		*accessTTL, *refreshTTL,
	)
	if err != nil {
		log.Fatalf("load auth service: %v", err)
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var user database.User
	if u != "" {
		switch err := db.Where("username = ?", u).First(&user).Error; {
		case err == nil:
			log.Fatalf("user %q already exists, use --user-id %d", u, user.ID)
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			log.Fatalf("query user: %v", err)
		}
		user = database.User{Username: u}
		if err := db.Create(&user).Error; err != nil {
			log.Fatalf("create user: %v", err)
		}
		fmt.Printf("已创建账号：%s（ID %d）\n", user.Username, user.ID)
	} else {
		if err := db.First(&user, *userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Fatalf("user %d not found", *userID)
			}
			log.Fatalf("query user: %v", err)
		}
	}

	pair, err := authService.GenerateTokenPair(user.ID)
	if err != nil {
		log.Fatalf("generate token pair: %v", err)
	}

	fmt.Printf("用户: %s（ID %d）\n", user.Username, user.ID)
	fmt.Printf("访问令牌（%s 内有效）: %s\n", authService.AccessTokenTTL(), pair.AccessToken)
	fmt.Printf("刷新令牌（%s 内有效）: %s\n", authService.RefreshTokenTTL(), pair.RefreshToken)
	fmt.Printf("提示：令牌仅显示一次，请妥善保存。\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("DB_NAME")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("DB_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("DB_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}
