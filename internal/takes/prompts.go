package takes

// DefaultPrompts are the phrases read aloud when no prompt file is configured.
var DefaultPrompts = []string{
	"Can you believe this traffic? I don't know where all these cars came from. One moment we were flying down the highway and next we were at a standstill. I hope I don't miss my flight. It's at 5:30 pm.",
	"The weather has been such a disappointment today. It started raining before I woke up the kids for school and hasn't let up. I hope they brought their raincoats.",
	"Hey, I'm sorry I missed your call. I was in a meeting and couldn't step away. You can give me a call back at 406-925-3178.",
	"On Wednesday, I stopped by that new coffee shop on Main Street and it was so busy. I was almost late for work!",
}
