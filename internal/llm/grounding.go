package llm

import (
	"fmt"
	"time"
)

const sourceGroundingTemplate = `CRITICAL INSTRUCTIONS - SOURCE PRIORITIZATION:

Current Date: %s

YOU MUST FOLLOW THESE RULES ABSOLUTELY:

1. **TRUST THE RESEARCH SOURCES COMPLETELY**
   - The sources below are MORE RECENT and MORE ACCURATE than your training data
   - If sources contradict what you "know", the SOURCES ARE CORRECT
   - Your training data may be outdated - defer to the provided research

2. **NEVER CORRECT OR "FIX" THE SOURCES**
   - Do not change names, titles, positions, dates, or facts from the sources
   - If sources say someone holds a position, accept it - do not "correct" based on your knowledge
   - If sources describe current events, treat them as current regardless of your training cutoff

3. **WRITE BASED ON SOURCES, NOT YOUR KNOWLEDGE**
   - Report exactly what the sources say
   - Do not add context like "former" or "current" unless it appears in the sources
   - Do not add qualifiers like "as of [date]" or "at the time" unless they're in the sources
   - Do not add background information from your training if it contradicts the sources

4. **WHEN IN DOUBT, STAY CLOSER TO THE SOURCE TEXT**
   - If something seems unusual, that's because the world has changed since your training
   - Preserve the sources' language and framing
   - Your job is to SYNTHESIZE THE RESEARCH, not to FACT-CHECK against outdated knowledge

5. **SOURCE CITATIONS ARE MANDATORY**
   - Use [Source N] citations for EVERY factual claim
   - Base EVERY statement on the provided sources
   - Do not speculate or infer beyond what sources state

REMEMBER: The research sources reflect REALITY. Your training data reflects THE PAST.`

// SourceGrounding returns the prompt preamble that pins a model to the
// gathered sources instead of its training data. Callers pass the
// current UTC time; the rendered date tells the model the sources
// postdate its cutoff.
func SourceGrounding(now time.Time) string {
	return fmt.Sprintf(sourceGroundingTemplate, now.UTC().Format("January 2, 2006"))
}
