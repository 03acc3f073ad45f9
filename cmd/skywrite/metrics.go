package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skywrite_login_attempts_total",
	Help: "Login form submissions, by outcome.",
}, []string{"outcome"})

var callbackResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skywrite_oauth_callbacks_total",
	Help: "OAuth callback completions, by outcome.",
}, []string{"outcome"})

var postResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skywrite_posts_total",
	Help: "Post creation attempts, by outcome.",
}, []string{"outcome"})
